package loadbalancer

import "testing"

func TestRoundRobinCyclesReplicas(t *testing.T) {
	lb := New("round_robin", []string{"a", "b", "c"})

	seen := make([]string, 3)
	for i := range seen {
		r, err := lb.Next("")
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[i] = r.URL
	}
	if seen[0] == seen[1] || seen[1] == seen[2] {
		t.Fatalf("round robin did not cycle: %v", seen)
	}
}

func TestRoundRobinSkipsDeadReplicas(t *testing.T) {
	lb := New("round_robin", []string{"a", "b"})
	rr := lb.(*roundRobin)
	rr.replicas[0].SetAlive(false)

	for i := 0; i < 5; i++ {
		r, err := lb.Next("")
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if r.URL != "b" {
			t.Fatalf("Next returned dead replica %q", r.URL)
		}
	}
}

func TestNoHealthyReplicaErrors(t *testing.T) {
	lb := New("round_robin", []string{"a"})
	rr := lb.(*roundRobin)
	rr.replicas[0].SetAlive(false)

	if _, err := lb.Next(""); err != ErrNoHealthyReplica {
		t.Fatalf("err = %v, want ErrNoHealthyReplica", err)
	}
}

func TestUserHashIsStablePerUser(t *testing.T) {
	lb := New("user_hash", []string{"a", "b", "c", "d"})

	first, err := lb.Next("user-42")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := lb.Next("user-42")
		if err != nil {
			t.Fatal(err)
		}
		if again.URL != first.URL {
			t.Fatalf("user_hash picked %q then %q for the same user", first.URL, again.URL)
		}
	}
}

func TestUserHashSkipsDeadReplicas(t *testing.T) {
	lb := New("user_hash", []string{"a", "b"})
	uh := lb.(*userHash)
	uh.replicas[0].SetAlive(false)
	uh.replicas[1].SetAlive(true)

	for i := 0; i < 10; i++ {
		r, err := lb.Next("any-user")
		if err != nil {
			t.Fatal(err)
		}
		if r.URL != "b" {
			t.Fatalf("user_hash returned dead replica %q", r.URL)
		}
	}
}

func TestWeightedFavorsHigherWeight(t *testing.T) {
	lb := New("weighted", []string{"heavy", "light"})
	w := lb.(*weighted)
	for _, r := range w.replicas {
		if r.URL == "heavy" {
			r.Weight = 3
		} else {
			r.Weight = 1
		}
	}

	counts := map[string]int{}
	for i := 0; i < 40; i++ {
		r, err := lb.Next("")
		if err != nil {
			t.Fatal(err)
		}
		counts[r.URL]++
	}
	if counts["heavy"] <= counts["light"] {
		t.Fatalf("weighted distribution = %v, want heavy to dominate", counts)
	}
}

func TestUnrecognizedAlgorithmFallsBackToRoundRobin(t *testing.T) {
	lb := New("least_conn", []string{"a", "b"})
	if _, ok := lb.(*roundRobin); !ok {
		t.Fatalf("New(%q, ...) = %T, want *roundRobin", "least_conn", lb)
	}
}
