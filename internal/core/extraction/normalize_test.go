package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "collapses excess newlines",
			in:   "alpha\n\n\n\nbeta",
			want: "alpha\n\nbeta",
		},
		{
			name: "strips trailing whitespace per line",
			in:   "alpha   \nbeta\t\n",
			want: "alpha\nbeta",
		},
		{
			name: "collapses space runs",
			in:   "alpha    beta  gamma",
			want: "alpha beta gamma",
		},
		{
			name: "trims the whole string",
			in:   "\n\n  alpha  \n\n",
			want: "alpha",
		},
		{
			name: "whitespace-only lines collapse with their neighbors",
			in:   "alpha\n \n \nbeta",
			want: "alpha\n\nbeta",
		},
		{
			name: "tab-only lines collapse with their neighbors",
			in:   "alpha\n\t\n\t\n\t\nbeta",
			want: "alpha\n\nbeta",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"# Heading\n\n\n\nbody   text  here   \n\n\n\n\nmore",
		"  \t mixed\twhitespace   everywhere \n\n\n",
		"already clean\n\ntext",
		"alpha\n \n \nbeta",
		"alpha\n\t \n  \n\t\nbeta",
		"one\n \nmid\n  \n \nend ",
	}

	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		assert.Equal(t, once, twice)
	}
}
