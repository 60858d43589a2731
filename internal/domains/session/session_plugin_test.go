package session

import (
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpanvictor/edmolink/internal/domains/plugin"
	"github.com/xpanvictor/edmolink/pkg/Logger"
)

// testPlugin records its callbacks and can push writes back via the host.
type testPlugin struct {
	name string
	host plugin.Host

	mu          sync.Mutex
	started     int
	ended       int
	joins       []int
	freqs       []float32
	pluginFreqs []float32
	updates     int
}

func (p *testPlugin) Name() string { return p.name }

func (p *testPlugin) SessionStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started++
}

func (p *testPlugin) SessionEnded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended++
}

func (p *testPlugin) UserJoined(slot int, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joins = append(p.joins, slot)
}

func (p *testPlugin) FrequencyChangedByUser(_ int, value float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freqs = append(p.freqs, value)
}

func (p *testPlugin) FrequencyChangedByPlugin(_ plugin.Plugin, value float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pluginFreqs = append(p.pluginFreqs, value)
}

func (p *testPlugin) Update() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates++
}

func newPluginSession(t *testing.T) (*Session, *testPlugin, *testPlugin) {
	t.Helper()
	fd, _ := newBoundDevice(t, "Snake1", 2)
	a := &testPlugin{name: "a"}
	b := &testPlugin{name: "b"}
	s := New(Options{
		Identifier: "Snake1",
		Device:     fd,
		Logger:     Logger.Nop(),
		Clock:      clock.NewMock(),
		Factory: func(host plugin.Host) []plugin.Plugin {
			a.host = host
			b.host = host
			return []plugin.Plugin{a, b}
		},
	})
	t.Cleanup(s.Close)
	return s, a, b
}

func TestPluginLifecycleCallbacks(t *testing.T) {
	s, a, b := newPluginSession(t)

	assert.Equal(t, 1, a.started)
	assert.Equal(t, 1, b.started)

	_, err := s.CreateContext("ann", &recorder{})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, a.joins)
	assert.Equal(t, []int{0}, b.joins)

	s.Close()
	assert.Equal(t, 1, a.ended)
	assert.Equal(t, 1, b.ended)

	// plugins are disposed with the session
	s.Close()
	assert.Equal(t, 1, a.ended)
}

func TestUserFrequencyNotifiesEveryPluginOnce(t *testing.T) {
	s, a, b := newPluginSession(t)

	c0, _ := s.CreateContext("ann", &recorder{})
	c0.SetFrequency(1.5)

	assert.Equal(t, []float32{1.5}, a.freqs)
	assert.Equal(t, []float32{1.5}, b.freqs)
}

func TestPluginWriteNotifiesOthersAndControllers(t *testing.T) {
	s, a, b := newPluginSession(t)

	r0 := &recorder{}
	_, err := s.CreateContext("ann", r0)
	require.NoError(t, err)

	a.host.SetFrequency(a, 2.5)

	assert.Empty(t, a.pluginFreqs, "originating plugin is not notified")
	assert.Equal(t, []float32{2.5}, b.pluginFreqs)
	assert.Equal(t, 1, r0.externalCount(), "controllers hear about plugin writes")
	assert.Equal(t, float32(2.5), s.paramsFor(0).Frequency)
	assert.Equal(t, float32(2.5), s.paramsFor(1).Frequency)
}

func TestFeedbackAndObjectivesReachControllers(t *testing.T) {
	s, a, _ := newPluginSession(t)

	r0 := &recorder{}
	_, err := s.CreateContext("ann", r0)
	require.NoError(t, err)

	a.host.SendFeedback(0, "well done")
	group := &plugin.ObjectiveGroup{
		Title:      "warmup",
		Objectives: []*plugin.Objective{plugin.NewObjective("wiggle", "")},
	}
	a.host.PublishObjectives(group)

	r0.mu.Lock()
	defer r0.mu.Unlock()
	assert.Equal(t, []string{"well done"}, r0.feedback)
	require.Len(t, r0.objectives, 1)
	assert.Equal(t, "warmup", r0.objectives[0].Title)
}
