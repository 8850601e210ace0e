package registry

import (
	"sort"
	"testing"
)

// checkDerived asserts the membership index is exactly the view derived
// from the session records.
func checkDerived(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, sess := range r.sessions {
		if sess.RoomID == "" {
			continue
		}
		if _, ok := r.rooms[sess.RoomID][id]; !ok {
			t.Errorf("Session %s says room %s but index disagrees", id, sess.RoomID)
		}
	}
	for roomID, members := range r.rooms {
		if len(members) == 0 {
			t.Errorf("Room %s has an empty member set (should be pruned)", roomID)
		}
		for id := range members {
			if sess, ok := r.sessions[id]; !ok || sess.RoomID != roomID {
				t.Errorf("Index lists %s in %s but session record disagrees", id, roomID)
			}
		}
	}
}

func TestAttachAndQuery(t *testing.T) {
	r := New()

	_, switched := r.Attach("s1", "alice", "r1")
	if switched {
		t.Error("First attach should not report a room switch")
	}

	sess, ok := r.SessionOf("s1")
	if !ok {
		t.Fatal("Session should exist")
	}
	if sess.UserID != "alice" || sess.RoomID != "r1" {
		t.Errorf("Session mismatch: %+v", sess)
	}

	members := r.MembersOf("r1")
	if len(members) != 1 || members[0] != "s1" {
		t.Errorf("Expected [s1], got %v", members)
	}
	checkDerived(t, r)
}

func TestAttachSwitchesRoom(t *testing.T) {
	r := New()

	r.Attach("s1", "alice", "r1")
	r.Attach("s2", "bob", "r1")

	prev, switched := r.Attach("s1", "alice", "r2")
	if !switched || prev.RoomID != "r1" {
		t.Errorf("Expected switch from 'r1', got switched=%v prev=%+v", switched, prev)
	}

	if r.MemberCount("r1") != 1 {
		t.Errorf("Expected 1 member left in r1, got %d", r.MemberCount("r1"))
	}
	if r.MemberCount("r2") != 1 {
		t.Errorf("Expected 1 member in r2, got %d", r.MemberCount("r2"))
	}
	checkDerived(t, r)
}

func TestRejoinSameRoomIdempotent(t *testing.T) {
	r := New()

	r.Attach("s1", "alice", "r1")
	_, switched := r.Attach("s1", "alice-renamed", "r1")
	if switched {
		t.Error("Rejoining the same room is not a switch")
	}
	if r.MemberCount("r1") != 1 {
		t.Errorf("Rejoin must not duplicate membership, got %d", r.MemberCount("r1"))
	}

	sess, _ := r.SessionOf("s1")
	if sess.UserID != "alice-renamed" {
		t.Errorf("Rejoin should refresh identity, got '%s'", sess.UserID)
	}
	checkDerived(t, r)
}

func TestAttachSwitchReportsOldIdentity(t *testing.T) {
	r := New()

	r.Attach("s1", "alice", "r1")
	prev, switched := r.Attach("s1", "alicia", "r2")
	if !switched {
		t.Fatal("Changing rooms should report a switch")
	}
	if prev.UserID != "alice" || prev.RoomID != "r1" {
		t.Errorf("Previous record should hold the pre-switch identity, got %+v", prev)
	}

	sess, _ := r.SessionOf("s1")
	if sess.UserID != "alicia" || sess.RoomID != "r2" {
		t.Errorf("Current record should hold the new identity, got %+v", sess)
	}
	checkDerived(t, r)
}

func TestDetachPrunesEmptyRoom(t *testing.T) {
	r := New()

	r.Attach("s1", "alice", "r1")
	sess, ok := r.Detach("s1")
	if !ok {
		t.Fatal("Detach should find the session")
	}
	if sess.RoomID != "r1" {
		t.Errorf("Expected detached room 'r1', got '%s'", sess.RoomID)
	}

	if _, rooms := r.Counts(); rooms != 0 {
		t.Errorf("Empty room should be pruned, got %d rooms", rooms)
	}
	if members := r.MembersOf("r1"); len(members) != 0 {
		t.Errorf("Expected no members, got %v", members)
	}
	checkDerived(t, r)
}

func TestDetachUnknownSession(t *testing.T) {
	r := New()
	if _, ok := r.Detach("ghost"); ok {
		t.Error("Detaching an unknown session should report not found")
	}
}

func TestSwitchPrunesOldRoom(t *testing.T) {
	r := New()

	r.Attach("s1", "alice", "r1")
	r.Attach("s1", "alice", "r2")

	_, rooms := r.Counts()
	if rooms != 1 {
		t.Errorf("Old room should be pruned after switch, got %d rooms", rooms)
	}
	checkDerived(t, r)
}

func TestMembershipAfterTransitions(t *testing.T) {
	r := New()

	// Mixed sequence of joins, switches and disconnects
	r.Attach("s1", "alice", "r1")
	r.Attach("s2", "bob", "r1")
	r.Attach("s3", "carol", "r2")
	r.Attach("s2", "bob", "r2")
	r.Detach("s3")
	r.Attach("s4", "dave", "r1")
	r.Detach("s1")

	members := r.MembersOf("r1")
	sort.Strings(members)
	if len(members) != 1 || members[0] != "s4" {
		t.Errorf("Expected r1=[s4], got %v", members)
	}

	members = r.MembersOf("r2")
	sort.Strings(members)
	if len(members) != 1 || members[0] != "s2" {
		t.Errorf("Expected r2=[s2], got %v", members)
	}

	sessions, rooms := r.Counts()
	if sessions != 2 || rooms != 2 {
		t.Errorf("Expected 2 sessions / 2 rooms, got %d / %d", sessions, rooms)
	}
	checkDerived(t, r)
}
