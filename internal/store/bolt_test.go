package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{
		IEEEAddress:  "00158D00012A3B4C",
		ShortAddress: 0x1234,
		Code:         2,
		FriendlyName: "scarecrow",
		JoinedAt:     time.Now().Truncate(time.Millisecond),
		LastSeen:     time.Now().Truncate(time.Millisecond),
	}

	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDevice(dev.IEEEAddress)
	if err != nil {
		t.Fatal(err)
	}

	if got.IEEEAddress != dev.IEEEAddress {
		t.Errorf("ieee = %q, want %q", got.IEEEAddress, dev.IEEEAddress)
	}
	if got.ShortAddress != dev.ShortAddress {
		t.Errorf("short = 0x%04X, want 0x%04X", got.ShortAddress, dev.ShortAddress)
	}
	if got.Code != dev.Code {
		t.Errorf("code = %d, want %d", got.Code, dev.Code)
	}
	if got.FriendlyName != dev.FriendlyName {
		t.Errorf("name = %q, want %q", got.FriendlyName, dev.FriendlyName)
	}
}

func TestDeleteDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{IEEEAddress: "00158D00012A3B4C", ShortAddress: 0x1234}
	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteDevice(dev.IEEEAddress); err != nil {
		t.Fatal(err)
	}

	_, err := s.GetDevice(dev.IEEEAddress)
	if err == nil {
		t.Fatal("expected error after delete, got nil")
	}
}

func TestListDevices(t *testing.T) {
	s := newTestStore(t)

	devs := []*Device{
		{IEEEAddress: "0000000000000001", ShortAddress: 0x0001, Code: 1},
		{IEEEAddress: "0000000000000002", ShortAddress: 0x0002, Code: 2},
	}
	for _, d := range devs {
		if err := s.SaveDevice(d); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list count = %d, want 2", len(list))
	}

	found := make(map[string]bool)
	for _, d := range list {
		found[d.IEEEAddress] = true
	}
	for _, d := range devs {
		if !found[d.IEEEAddress] {
			t.Errorf("device %s not in list", d.IEEEAddress)
		}
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDevice("FFFFFFFFFFFFFFFF")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{IEEEAddress: "0000000000000001", ShortAddress: 0x0001}
	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	now := time.Now().Truncate(time.Millisecond)
	err := s.UpdateDevice(dev.IEEEAddress, func(d *Device) error {
		d.ShortAddress = 0x4B12
		d.LastSeen = now
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDevice(dev.IEEEAddress)
	if err != nil {
		t.Fatal(err)
	}
	if got.ShortAddress != 0x4B12 || !got.LastSeen.Equal(now) {
		t.Errorf("update not persisted: %+v", got)
	}

	if err := s.UpdateDevice("FFFFFFFFFFFFFFFF", func(d *Device) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveAndGetNetworkState(t *testing.T) {
	s := newTestStore(t)

	state := &NetworkState{Channel: 15, PanID: 0x1A62, Formed: true}
	if err := s.SaveNetworkState(state); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetNetworkState()
	if err != nil {
		t.Fatal(err)
	}
	if got.Channel != 15 || got.PanID != 0x1A62 || !got.Formed {
		t.Errorf("state = %+v", got)
	}
}

func TestGetNetworkStateNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetNetworkState()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
