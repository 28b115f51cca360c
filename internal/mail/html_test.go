package mail

import "testing"

func TestStripHTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "tags removed, block boundaries kept",
			in:   "<html><body><p>Добрый день!</p><p>Прибор не включается.</p></body></html>",
			want: "Добрый день!\nПрибор не включается.",
		},
		{
			name: "script and style dropped",
			in:   "<html><head><style>p{color:red}</style></head><body><script>alert(1)</script><p>текст</p></body></html>",
			want: "текст",
		},
		{
			name: "blank line runs collapse",
			in:   "<div>первая</div><div></div><div></div><div>вторая</div>",
			want: "первая\n\nвторая",
		},
		{
			name: "plain text passes through",
			in:   "просто текст",
			want: "просто текст",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StripHTML(tt.in); got != tt.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
