package warp

import "testing"

func TestEdgeKey_RoundTrip(t *testing.T) {
	key := EdgeKey("a", "b", "knows")
	from, to, label, ok := SplitEdgeKey(key)
	if !ok || from != "a" || to != "b" || label != "knows" {
		t.Errorf("round trip failed: got (%q,%q,%q,%v)", from, to, label, ok)
	}
}

func TestEdgePropKey_DistinctFromNodePropKey(t *testing.T) {
	node := NodePropKey("a", "name")
	edge := EdgePropKey("a", "b", "knows", "name")
	if node == edge {
		t.Fatalf("expected node and edge prop keys never to collide")
	}
	if !IsEdgePropKey(edge) {
		t.Errorf("expected IsEdgePropKey(edge) = true")
	}
	if IsEdgePropKey(node) {
		t.Errorf("expected IsEdgePropKey(node) = false")
	}

	from, to, label, propKey, ok := splitEdgePropKey(edge)
	if !ok || from != "a" || to != "b" || label != "knows" || propKey != "name" {
		t.Errorf("edge prop key round trip failed: (%q,%q,%q,%q,%v)", from, to, label, propKey, ok)
	}
}

func TestKeys_SeparatorPreventsCollision(t *testing.T) {
	// Without a reserved separator, ("ab","c","") and ("a","bc","") would
	// collide under naive concatenation.
	k1 := EdgeKey("ab", "c", "")
	k2 := EdgeKey("a", "bc", "")
	if k1 == k2 {
		t.Errorf("expected distinct keys for (ab,c,'') and (a,bc,'')")
	}
}
