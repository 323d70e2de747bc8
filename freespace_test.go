package sdfat

import (
	"encoding/binary"
	"testing"
)

func TestFs_TotalFree(t *testing.T) {
	tests := []struct {
		name        string
		storedCount uint32
		invalidate  bool
		want        uint32
		wantTrusted bool
	}{
		{name: "trusted count is used", storedCount: 5, want: 5, wantTrusted: true},
		{name: "unknown count is scanned", storedCount: fsInfoUnknown, want: 9, wantTrusted: true},
		{name: "count above the cluster count is scanned", storedCount: 11, want: 9, wantTrusted: true},
		{name: "invalidated count is scanned", storedCount: 5, invalidate: true, want: 9, wantTrusted: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := newTestCard(t, 10, 1)
			patchSector(t, img, testStart+1, func(buf []byte) {
				binary.LittleEndian.PutUint32(buf[488:], tt.storedCount)
			})

			fs := mount(t, img, Config{})
			if tt.invalidate {
				fs.InvalidateFreeCount()
			}

			got, err := fs.TotalFree()
			if err != nil {
				t.Fatalf("TotalFree() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("TotalFree() = %v, want %v", got, tt.want)
			}
			if fs.free.trusted != tt.wantTrusted {
				t.Errorf("free.trusted = %v, want %v", fs.free.trusted, tt.wantTrusted)
			}
		})
	}
}

func TestFs_NextFreeHint(t *testing.T) {
	tests := []struct {
		name string
		next uint32
		want uint32
	}{
		{name: "valid hint", next: 7, want: 7},
		{name: "unknown hint", next: fsInfoUnknown, want: 2},
		{name: "hint behind the end", next: 12, want: 2},
		{name: "reserved cluster", next: 1, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := newTestCard(t, 10, 1)
			patchSector(t, img, testStart+1, func(buf []byte) {
				binary.LittleEndian.PutUint32(buf[492:], tt.next)
			})

			fs := mount(t, img, Config{})
			if got := fs.NextFreeHint(); got != tt.want {
				t.Errorf("NextFreeHint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFs_markFreed(t *testing.T) {
	fs, _ := newTestFs(t, 10, 1)
	fs.free.next = 8

	fs.markFreed(9)
	if fs.free.next != 8 {
		t.Errorf("markFreed() above the hint moved it to %v", fs.free.next)
	}

	fs.markFreed(4)
	if fs.free.next != 4 {
		t.Errorf("markFreed() below the hint = %v, want 4", fs.free.next)
	}
	if fs.free.count != 11 {
		t.Errorf("free.count = %v, want 11", fs.free.count)
	}
}

func TestFs_Flush(t *testing.T) {
	tests := []struct {
		name      string
		prepare   func(fs *Fs)
		wantCount uint32
		wantNext  uint32
	}{
		{
			name: "allocation",
			prepare: func(fs *Fs) {
				if _, err := fs.AllocateAndLink(0); err != nil {
					t.Fatal(err)
				}
			},
			wantCount: 8,
			wantNext:  4,
		},
		{
			name:      "invalidated count",
			prepare:   func(fs *Fs) { fs.InvalidateFreeCount() },
			wantCount: fsInfoUnknown,
			wantNext:  3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, img := newTestFs(t, 10, 1)
			tt.prepare(fs)

			if err := fs.Flush(); err != nil {
				t.Fatalf("Flush() error = %v", err)
			}

			buf := make([]byte, SectorSize)
			if err := img.ReadSector(testStart+1, buf); err != nil {
				t.Fatal(err)
			}

			if got := binary.LittleEndian.Uint32(buf[0:]); got != fsInfoLeadSignature {
				t.Errorf("lead signature = 0x%08X", got)
			}
			if got := binary.LittleEndian.Uint32(buf[488:]); got != tt.wantCount {
				t.Errorf("stored count = %v, want %v", got, tt.wantCount)
			}
			if got := binary.LittleEndian.Uint32(buf[492:]); got != tt.wantNext {
				t.Errorf("stored hint = %v, want %v", got, tt.wantNext)
			}
			if fs.free.dirty {
				t.Error("free.dirty after Flush()")
			}
		})
	}
}

func TestFs_Flush_repairsSignatures(t *testing.T) {
	img := newTestCard(t, 10, 1)
	patchSector(t, img, testStart+1, func(buf []byte) {
		binary.LittleEndian.PutUint32(buf[0:], 0)
	})

	fs := mount(t, img, Config{})
	if _, err := fs.TotalFree(); err != nil {
		t.Fatal(err)
	}
	if err := fs.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	again := mount(t, img, Config{RequireFSInfo: true})
	if !again.free.trusted || again.free.count != 9 {
		t.Errorf("free after repair = %+v, want 9 trusted", again.free)
	}
}
