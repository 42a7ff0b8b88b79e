package demo

import "testing"

func TestLifecycleOrder(t *testing.T) {
	if !Triggered.Before(Acknowledged) || !Acknowledged.Before(Resolved) {
		t.Fatal("lifecycle order broken")
	}
	if Resolved.Before(Triggered) {
		t.Fatal("resolved precedes triggered")
	}
	if Resolved.Before(Resolved) {
		t.Fatal("state precedes itself")
	}
}

func TestParseEventType(t *testing.T) {
	if got := ParseEventType("incident.triggered"); got != EventIncidentTriggered {
		t.Fatalf("got %v", got)
	}
	if got := ParseEventType("incident.brand_new_thing"); got != EventUnknown {
		t.Fatalf("unknown event mapped to %v", got)
	}
}

func TestParseCallbackAction(t *testing.T) {
	if got, ok := ParseCallbackAction("responder_action"); !ok || got != CallbackResponderAct {
		t.Fatalf("got %v %v", got, ok)
	}
	if _, ok := ParseCallbackAction("detonate"); ok {
		t.Fatal("unknown action parsed")
	}
}

func TestAllActed(t *testing.T) {
	st := State{ResponderActions: map[string]ResponderAction{}}
	if st.AllActed() {
		t.Fatal("empty map counts as all acted")
	}
	st.ResponderActions["a"] = ResponderAction{Acted: true}
	st.ResponderActions["b"] = ResponderAction{}
	if st.AllActed() {
		t.Fatal("pending responder ignored")
	}
	if got := st.NotActed(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("NotActed = %v", got)
	}
	st.ResponderActions["b"] = ResponderAction{Acted: true}
	if !st.AllActed() {
		t.Fatal("all acted not detected")
	}
}

func TestCatalogPick(t *testing.T) {
	cat := DefaultCatalog()
	entry := cat.Pick(zeroRand{})
	if entry.Kind != ActionAddNote {
		t.Fatalf("zero roll picked %s", entry.Kind)
	}
	empty := Catalog{}
	if got := empty.Pick(zeroRand{}); got.Kind != ActionAddNote {
		t.Fatalf("empty catalog fallback = %s", got.Kind)
	}
}

func TestLibraryMessageFallback(t *testing.T) {
	lib := DefaultLibrary()
	if msg := lib.Message(zeroRand{}, Category("bogus")); msg != lib[CategoryInvestigating][0] {
		t.Fatalf("fallback = %q", msg)
	}
	if msg := (Library{}).Message(zeroRand{}, CategoryResolved); msg != "" {
		t.Fatalf("empty library = %q", msg)
	}
}
