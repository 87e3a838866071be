package payment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHumanizeFailure(t *testing.T) {
	cases := []struct {
		name        string
		rawStatus   string
		rawMessage  string
		wantMessage string
	}{
		{"insufficient funds", "DECLINED", "Insufficient funds in account", "Fondos insuficientes en tu cuenta."},
		{"expired card", "DECLINED", "Card expired", "Tu tarjeta está vencida."},
		{"user cancelled", "DECLINED", "Transaction rejected by user", "Cancelaste el pago antes de completarlo."},
		{"generic decline", "DECLINED", "Do not honor", "Tu banco rechazó la transacción."},
		{"provider error", "ERROR", "Internal provider failure", "Ocurrió un error procesando tu pago."},
		{"voided", "VOIDED", "", "El pago fue anulado."},
		{"unknown status", "WEIRD", "", "Tu pago no pudo ser procesado."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reason := HumanizeFailure(tc.rawStatus, tc.rawMessage)
			require.Equal(t, tc.wantMessage, reason.Message)
			require.NotEmpty(t, reason.Suggestion)
		})
	}
}
