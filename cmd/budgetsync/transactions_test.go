package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionFlagsInput(t *testing.T) {
	tests := []struct {
		name    string
		flags   transactionFlags
		want    time.Time
		wantErr bool
	}{
		{"no date means now", transactionFlags{description: "Coffee", amount: "3.20"}, time.Time{}, false},
		{"date", transactionFlags{description: "Rent", amount: "900", date: "2024-03-01"}, time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local), false},
		{"bad date", transactionFlags{description: "Rent", amount: "900", date: "01/03/2024"}, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := tt.flags.input()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.flags.description, in.Description)
			assert.Equal(t, tt.flags.amount, in.Amount)
			assert.True(t, tt.want.Equal(in.CreatedAt))
		})
	}
}
