// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmipc_test

import (
	"errors"
	"strings"
	"testing"

	"code.hybscloud.com/shmipc"
)

func TestNewServiceNameValid(t *testing.T) {
	names := []string{"camera/front", "sensor.temp-01", "a", "A_B/c.d:e-f"}
	for _, n := range names {
		if _, err := shmipc.NewServiceName(n); err != nil {
			t.Fatalf("NewServiceName(%q): %v", n, err)
		}
	}
}

func TestNewServiceNameRejectsInvalid(t *testing.T) {
	tests := []string{
		"",
		strings.Repeat("a", 256),
		"has space",
		"emoji😀",
		"tab\tchar",
	}
	for _, n := range tests {
		if _, err := shmipc.NewServiceName(n); !errors.Is(err, shmipc.ErrInvalidServiceName) {
			t.Fatalf("NewServiceName(%q): got %v, want ErrInvalidServiceName", n, err)
		}
	}
}

func TestNewServiceNameMaxLength(t *testing.T) {
	n := strings.Repeat("a", 255)
	if _, err := shmipc.NewServiceName(n); err != nil {
		t.Fatalf("NewServiceName(255 bytes): %v", err)
	}
}

func TestDeriveServiceIDDeterministic(t *testing.T) {
	name, err := shmipc.NewServiceName("camera/front")
	if err != nil {
		t.Fatalf("NewServiceName: %v", err)
	}
	id1 := shmipc.DeriveServiceID(name)
	id2 := shmipc.DeriveServiceID(name)
	if id1 != id2 {
		t.Fatalf("DeriveServiceID not deterministic: %v != %v", id1, id2)
	}
	if len(id1.String()) != 16 {
		t.Fatalf("ServiceID length: got %d, want 16", len(id1.String()))
	}
}

func TestDeriveServiceIDDiffersByName(t *testing.T) {
	a, _ := shmipc.NewServiceName("camera/front")
	b, _ := shmipc.NewServiceName("camera/back")
	if shmipc.DeriveServiceID(a) == shmipc.DeriveServiceID(b) {
		t.Fatal("DeriveServiceID: distinct names produced the same id")
	}
}
