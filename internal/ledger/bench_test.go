package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ppiankov/causalvault/internal/model"
)

func BenchmarkAppend(b *testing.B) {
	s, err := Open(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	payload := []byte(`{"id":1,"kind":"inference","content_digest":"sha256:bench"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Append(ctx, "sess-bench", model.EventNodeAdded, payload); err != nil {
			b.Fatal(err)
		}
	}
}

func benchVerify(b *testing.B, n int) {
	b.Helper()
	s, err := Open(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < n; i++ {
		if _, err := s.Append(ctx, "sess-bench", model.EventNodeAdded, fmt.Appendf(nil, `{"n":%d}`, i)); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.Verify(ctx, "sess-bench"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVerify_1000(b *testing.B)  { benchVerify(b, 1000) }
func BenchmarkVerify_10000(b *testing.B) { benchVerify(b, 10000) }
