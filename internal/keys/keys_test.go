package keys

import "testing"

func TestNew(t *testing.T) {
	s := New("convoy:", "emails")

	want := Set{
		Committed:  "convoy:emails:committed",
		Queued:     "convoy:emails:queued",
		Processing: "convoy:emails:processing",
		Failed:     "convoy:emails:failed",
	}

	if s.Committed != want.Committed || s.Queued != want.Queued ||
		s.Processing != want.Processing || s.Failed != want.Failed {
		t.Errorf("New() = %+v, want %+v", s, want)
	}
}

func TestSet_ErrorLog(t *testing.T) {
	s := New("convoy:", "emails")

	got := s.ErrorLog(172800)
	want := "convoy:emails:errorLog.172800"

	if got != want {
		t.Errorf("ErrorLog(172800) = %q, want %q", got, want)
	}
}
