package gateway

import "testing"

func TestResponseOKBounds(t *testing.T) {
	cases := map[int]bool{
		199: false,
		200: true,
		204: true,
		299: true,
		300: false,
		404: false,
		500: false,
	}
	for code, want := range cases {
		resp := &apiResponse{StatusCode: code}
		if got := resp.ok(); got != want {
			t.Errorf("ok() for %d = %v, want %v", code, got, want)
		}
	}
}
