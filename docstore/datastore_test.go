package docstore

import (
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToProperties_SortedAndNormalised(t *testing.T) {
	props, err := toProperties(map[string]any{
		"title":     "Milk",
		"completed": false,
		"count":     3,
		"ratio":     float32(0.5),
	})
	if err != nil {
		t.Fatalf("toProperties: %v", err)
	}

	wantNames := []string{"completed", "count", "ratio", "title"}
	if len(props) != len(wantNames) {
		t.Fatalf("expected %d properties, got %d", len(wantNames), len(props))
	}
	for i, name := range wantNames {
		if props[i].Name != name {
			t.Errorf("property %d: expected %q, got %q", i, name, props[i].Name)
		}
	}
	if _, ok := props[1].Value.(int64); !ok {
		t.Errorf("expected int to become int64, got %T", props[1].Value)
	}
	if _, ok := props[2].Value.(float64); !ok {
		t.Errorf("expected float32 to become float64, got %T", props[2].Value)
	}
}

func TestToPropertyValue(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		in      any
		want    any
		wantErr bool
	}{
		{"string", "x", "x", false},
		{"bool", true, true, false},
		{"nil", nil, nil, false},
		{"int32", int32(7), int64(7), false},
		{"time", now, now, false},
		{"slice", []string{"a"}, nil, true},
		{"map", map[string]any{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toPropertyValue(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDocument) {
					t.Errorf("expected ErrInvalidDocument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFromProperties(t *testing.T) {
	fields := fromProperties(datastore.PropertyList{
		{Name: "title", Value: "Market"},
		{Name: "ownerId", Value: "u1"},
	})
	if fields["title"] != "Market" || fields["ownerId"] != "u1" {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestDatastore_MapError(t *testing.T) {
	s := &Datastore{config: DefaultConfig()}
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such entity", datastore.ErrNoSuchEntity, ErrNotFound},
		{"sentinel", ErrAlreadyExists, ErrAlreadyExists},
		{"permission", status.Error(codes.PermissionDenied, "denied"), ErrPermission},
		{"unauthenticated", status.Error(codes.Unauthenticated, "no token"), ErrPermission},
		{"already exists", status.Error(codes.AlreadyExists, "dup"), ErrAlreadyExists},
		{"invalid", status.Error(codes.InvalidArgument, "bad"), ErrInvalidDocument},
		{"unavailable", status.Error(codes.Unavailable, "down"), ErrUnavailable},
		{"plain", errors.New("boom"), ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.mapError("op", tt.err); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
