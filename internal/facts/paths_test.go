package facts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  error
	}{
		{"src/app.ts", "src/app.ts", nil},
		{"./src/../src/app.ts", "src/app.ts", nil},
		{"/home/u/proj/src/app.ts", "", ErrAbsolutePath},
		{"C:/proj/app.ts", "", ErrAbsolutePath},
		{`src\app.ts`, "", ErrBackslash},
		{"../outside.ts", "", ErrEscapesRoot},
		{"", "", ErrEmptyPath},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CanonicalPath(tt.in)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
