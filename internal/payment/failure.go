package payment

import "strings"

// FailureReason is a customer-facing explanation of a failed payment.
type FailureReason struct {
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// HumanizeFailure turns a provider status and its raw message into Spanish
// copy shown to the customer. Raw provider text is never surfaced directly.
func HumanizeFailure(rawStatus, statusMessage string) FailureReason {
	msg := strings.ToUpper(statusMessage)
	switch strings.ToUpper(strings.TrimSpace(rawStatus)) {
	case "DECLINED":
		switch {
		case strings.Contains(msg, "INSUFFICIENT") || strings.Contains(msg, "FONDOS"):
			return FailureReason{
				Message:    "Fondos insuficientes en tu cuenta.",
				Suggestion: "Verifica tu saldo o intenta con otro medio de pago.",
			}
		case strings.Contains(msg, "EXPIRED") || strings.Contains(msg, "VENCIDA"):
			return FailureReason{
				Message:    "Tu tarjeta está vencida.",
				Suggestion: "Intenta con una tarjeta vigente u otro medio de pago.",
			}
		case strings.Contains(msg, "REJECTED BY USER") || strings.Contains(msg, "CANCELLED BY USER"):
			return FailureReason{
				Message:    "Cancelaste el pago antes de completarlo.",
				Suggestion: "Puedes reintentar el pago cuando quieras.",
			}
		default:
			return FailureReason{
				Message:    "Tu banco rechazó la transacción.",
				Suggestion: "Comunícate con tu banco o intenta con otro medio de pago.",
			}
		}
	case "ERROR":
		return FailureReason{
			Message:    "Ocurrió un error procesando tu pago.",
			Suggestion: "Intenta nuevamente en unos minutos.",
		}
	case "VOIDED":
		return FailureReason{
			Message:    "El pago fue anulado.",
			Suggestion: "Si no reconoces esta anulación, contáctanos.",
		}
	default:
		return FailureReason{
			Message:    "Tu pago no pudo ser procesado.",
			Suggestion: "Intenta nuevamente o usa otro medio de pago.",
		}
	}
}
