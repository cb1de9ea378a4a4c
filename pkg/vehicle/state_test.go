package vehicle

import (
	"sync"
	"testing"

	"github.com/rov-teleop/agent/pkg/rc"
)

func TestSnapshotConsistency(t *testing.T) {
	st := NewState("MANUAL")

	armed, mode, intent := st.Snapshot()
	if armed || mode != "MANUAL" || intent != nil {
		t.Errorf("Fresh state should be disarmed, MANUAL, no intent: %v %q %v", armed, mode, intent)
	}

	ch := rc.NewChannels()
	ch.Yaw = rc.PWM(1600)
	st.SetArmed(true)
	st.SetIntent(&Intent{Method: MethodRCChannels, Channels: ch})

	armed, _, intent = st.Snapshot()
	if !armed || intent == nil {
		t.Fatalf("Expected armed with intent, got %v %v", armed, intent)
	}
	if intent.Channels.Yaw == nil || *intent.Channels.Yaw != 1600 {
		t.Errorf("Intent should round-trip unchanged")
	}

	st.ClearIntent()
	if _, _, intent := st.Snapshot(); intent != nil {
		t.Errorf("ClearIntent should drop the intent")
	}
}

func TestStateConcurrentAccess(t *testing.T) {
	st := NewState("MANUAL")
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				st.SetArmed(j%2 == 0)
				st.SetIntent(&Intent{Method: MethodManual})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				st.Snapshot()
			}
		}()
	}
	wg.Wait()
}
