package rooms

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegistry_JoinCapacity(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.Create("abc123", "a"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := r.Join("ABC123", "a"); err != nil {
		t.Fatalf("owner join: %v", err)
	}
	members, err := r.Join("abc123", "b")
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if len(members) != 2 || members[0] != "a" || members[1] != "b" {
		t.Fatalf("members=%v, want [a b]", members)
	}

	if _, err := r.Join("ABC123", "c"); !errors.Is(err, ErrFull) {
		t.Fatalf("third join err=%v, want %v", err, ErrFull)
	}
	got, _ := r.Members("ABC123")
	if len(got) != 2 {
		t.Fatalf("members after rejected join=%v, want 2 entries", got)
	}
}

func TestRegistry_ReservationCountsTowardCapacity(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.Create("ROOM01", "owner"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Join("ROOM01", "guest"); err != nil {
		t.Fatalf("guest join: %v", err)
	}
	if _, err := r.Join("ROOM01", "intruder"); !errors.Is(err, ErrFull) {
		t.Fatalf("intruder join err=%v, want %v", err, ErrFull)
	}
	if _, err := r.Join("ROOM01", "owner"); err != nil {
		t.Fatalf("owner join into reserved slot: %v", err)
	}
}

func TestRegistry_JoinUnknownDoesNotMutate(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.Join("NOPE00", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrNotFound)
	}
	if r.Len() != 0 {
		t.Fatalf("Len=%d, want 0", r.Len())
	}
	if r.Exists("NOPE00") {
		t.Fatalf("room exists after failed join")
	}
	if left := r.Leave("a"); len(left) != 0 {
		t.Fatalf("Leave after failed join=%v, want none", left)
	}
}

func TestRegistry_AutoCreate(t *testing.T) {
	r := NewRegistry(Options{AutoCreate: true})
	members, err := r.Join("auto01", "a")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(members) != 1 || members[0] != "a" {
		t.Fatalf("members=%v, want [a]", members)
	}
	if !r.Exists("AUTO01") {
		t.Fatalf("room not created")
	}
}

func TestRegistry_RejoinIsIdempotent(t *testing.T) {
	r := NewRegistry(Options{AutoCreate: true})
	if _, err := r.Join("SAME00", "a"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	members, err := r.Join("SAME00", "a")
	if err != nil {
		t.Fatalf("re-join: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("members=%v, want one entry", members)
	}
}

func TestRegistry_CreateCollision(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.Create("DUP123", "a"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Create("dup123", "b"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err=%v, want %v", err, ErrAlreadyExists)
	}
}

func TestRegistry_CodeReusableAfterLastLeave(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.Create("REUSE1", "a"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Join("REUSE1", "a"); err != nil {
		t.Fatalf("Join a: %v", err)
	}
	if _, err := r.Join("REUSE1", "b"); err != nil {
		t.Fatalf("Join b: %v", err)
	}

	if left := r.Leave("a"); len(left) != 1 || left[0] != "REUSE1" {
		t.Fatalf("Leave a=%v, want [REUSE1]", left)
	}
	if !r.Exists("REUSE1") {
		t.Fatalf("room removed while b is still a member")
	}
	r.Leave("b")
	if r.Exists("REUSE1") {
		t.Fatalf("empty room still exists")
	}

	if _, err := r.Create("REUSE1", "c"); err != nil {
		t.Fatalf("re-create after last leave: %v", err)
	}
}

func TestRegistry_LeaveDropsReservation(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.Create("RSV001", "a"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.Leave("a")
	if r.Exists("RSV001") {
		t.Fatalf("room kept alive by a departed reservation")
	}
}

func TestRegistry_ConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	r := NewRegistry(Options{AutoCreate: true})

	const joiners = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Join("RACE00", fmt.Sprintf("peer-%d", i)); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if success != Capacity {
		t.Fatalf("successful joins=%d, want %d", success, Capacity)
	}
	members, _ := r.Members("RACE00")
	if len(members) != Capacity {
		t.Fatalf("members=%v, want %d entries", members, Capacity)
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "abc123", want: "ABC123"},
		{in: "  xyz789 ", want: "XYZ789"},
		{in: "ABCDE", wantErr: true},
		{in: "ABCDEFG", wantErr: true},
		{in: "ABC-12", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeCode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidCode) {
				t.Fatalf("NormalizeCode(%q) err=%v, want %v", tt.in, err, ErrInvalidCode)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("NormalizeCode(%q)=(%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 32; i++ {
		code := GenerateCode()
		got, err := NormalizeCode(code)
		if err != nil || got != code {
			t.Fatalf("GenerateCode()=%q is not a valid normalized code", code)
		}
	}
}
