package mrz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCorrect(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		class CharClass
		want  string
	}{
		{"digits", "69O8O6", Digits, "690806"},
		{"digits all confusions", "OQUDIZSB", Digits, "00001258"},
		{"letters", "ERIK5S0N", Letters, "ERIKSSON"},
		{"letters all confusions", "01258", Letters, "OIZSB"},
		{"filler untouched", "<<O<<", Digits, "<<0<<"},
		{"any char untouched", "L898902C<", AnyChar, "L898902C<"},
		{"unknown characters untouched", "A?7", Letters, "A?7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Correct(tt.in, tt.class))
		})
	}
}

func TestCorrectIsIdempotent(t *testing.T) {
	inputs := []string{
		"OQUDIZSB0123456789",
		"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789<",
		"ERIK5S0N<<ANNA<MAR1A",
		"",
	}
	for _, class := range []CharClass{Digits, Letters, AnyChar} {
		for _, in := range inputs {
			once := Correct(in, class)
			require.Equal(t, once, Correct(once, class))
		}
	}
}

func TestCorrectNeverTouchesFiller(t *testing.T) {
	for _, table := range confusions {
		_, ok := table[Filler]
		require.False(t, ok)
		for _, to := range table {
			require.NotEqual(t, byte(Filler), to)
		}
	}
}

func TestClassOf(t *testing.T) {
	require.Equal(t, Digits, ClassOf(DateField))
	require.Equal(t, Digits, ClassOf(CheckDigit))
	require.Equal(t, Digits, ClassOf(Numeric))
	require.Equal(t, Letters, ClassOf(CountryCode))
	require.Equal(t, Letters, ClassOf(Composite))
	require.Equal(t, Letters, ClassOf(Sex))
	require.Equal(t, AnyChar, ClassOf(Alphanumeric))
}
