package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

type opener func(t *testing.T, path string) Store

func backends() map[string]opener {
	return map[string]opener{
		"memory": func(t *testing.T, path string) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T, path string) Store {
			s, err := OpenSQLite(context.Background(), path+".sqlite")
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			return s
		},
		"bolt": func(t *testing.T, path string) Store {
			s, err := OpenBolt(context.Background(), path+".bolt", zaptest.NewLogger(t))
			if err != nil {
				t.Fatalf("OpenBolt: %v", err)
			}
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, filepath.Join(t.TempDir(), "kv"))
			defer s.Close()

			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			for _, k := range []string{"datapack:cache:b", "datapack:cache:a", "other:x"} {
				if err := s.Put(ctx, k, []byte(k)); err != nil {
					t.Fatalf("Put(%s): %v", k, err)
				}
			}
			if err := s.Put(ctx, "other:x", []byte("v2")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			v, err := s.Get(ctx, "other:x")
			if err != nil || string(v) != "v2" {
				t.Fatalf("Get(other:x) = %q, %v", v, err)
			}

			keys, err := s.Keys(ctx, "datapack:cache:")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			if len(keys) != 2 || keys[0] != "datapack:cache:a" || keys[1] != "datapack:cache:b" {
				t.Errorf("unexpected keys %v", keys)
			}

			n, err := s.DeletePrefix(ctx, "datapack:cache:")
			if err != nil || n != 2 {
				t.Fatalf("DeletePrefix = %d, %v", n, err)
			}
			if _, err := s.Get(ctx, "other:x"); err != nil {
				t.Errorf("key outside prefix should survive: %v", err)
			}

			if err := s.Delete(ctx, "other:x"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete(ctx, "other:x"); err != nil {
				t.Fatalf("Delete of missing key should succeed: %v", err)
			}
			keys, _ = s.Keys(ctx, "")
			if len(keys) != 0 {
				t.Errorf("expected empty store, got %v", keys)
			}
		})
	}
}

func TestPersistentBackendsSurviveReopen(t *testing.T) {
	for name, open := range backends() {
		if name == "memory" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "kv")

			s := open(t, path)
			if err := s.Put(ctx, "k", []byte("v")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			s = open(t, path)
			defer s.Close()
			v, err := s.Get(ctx, "k")
			if err != nil || string(v) != "v" {
				t.Errorf("after reopen Get = %q, %v", v, err)
			}
		})
	}
}
