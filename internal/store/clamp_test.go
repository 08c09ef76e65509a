package store

import "testing"

func TestClampDebit(t *testing.T) {
	tests := []struct {
		name      string
		balance   int64
		requested int64
		want      int64
	}{
		{
			name:      "full debit when balance covers it",
			balance:   10,
			requested: 1,
			want:      1,
		},
		{
			name:      "debit of the entire balance",
			balance:   1,
			requested: 1,
			want:      1,
		},
		{
			name:      "clamps to remaining balance",
			balance:   1,
			requested: 5,
			want:      1,
		},
		{
			name:      "zero balance realizes nothing",
			balance:   0,
			requested: 1,
			want:      0,
		},
		{
			name:      "non-positive request realizes nothing",
			balance:   10,
			requested: 0,
			want:      0,
		},
		{
			name:      "negative request realizes nothing",
			balance:   10,
			requested: -3,
			want:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clampDebit(tt.balance, tt.requested)
			if got != tt.want {
				t.Fatalf("expected realized=%d, got %d", tt.want, got)
			}
			if tt.balance-got < 0 {
				t.Fatalf("realized debit %d would overdraw balance %d", got, tt.balance)
			}
		})
	}
}
