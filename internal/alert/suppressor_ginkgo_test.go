package alert

import (
	"testing"
	"time"

	"github.com/fleetmdm/controlplane/internal/config"
	"github.com/fleetmdm/controlplane/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// TestSuppressionPipeline runs the Ginkgo specs below, mirroring the
// teacher's test/integration/kvstore suite shape
// (RegisterFailHandler/RunSpecs) but against the suppressor's pure
// in-memory state machine rather than a live backing store.
func TestSuppressionPipeline(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Suppression Pipeline Suite")
}

var _ = Describe("suppressor", func() {
	var (
		cfg *config.Config
		now time.Time
	)

	BeforeEach(func() {
		cfg = config.NewDefault()
		now = time.Now().UTC()
	})

	When("the global per-minute cap is already exhausted", func() {
		It("blocks a different condition in the same window even under its own rollup threshold", func() {
			cfg.Alerts.GlobalCapPerMin = 1
			cfg.Alerts.RollupThreshold = 10
			s := newSuppressor(cfg)

			allow1, _ := s.admit("d1", model.ConditionOffline, now)
			Expect(allow1).To(BeTrue())

			allow2, _ := s.admit("d2", model.ConditionLowBattery, now)
			Expect(allow2).To(BeFalse(), "a second condition within the same global window must still be blocked")
		})
	})

	When("the rollup window has elapsed", func() {
		It("starts a fresh bucket and delivers individually again", func() {
			cfg.Alerts.GlobalCapPerMin = 1000
			cfg.Alerts.RollupThreshold = 2
			s := newSuppressor(cfg)

			allow1, roll1 := s.admit("d1", model.ConditionOffline, now)
			Expect(allow1).To(BeTrue())
			Expect(roll1).To(Equal(0))

			allow2, roll2 := s.admit("d2", model.ConditionOffline, now)
			Expect(allow2).To(BeTrue())
			Expect(roll2).To(Equal(2), "the threshold-reaching admit must report the aggregate count")

			allow3, roll3 := s.admit("d3", model.ConditionOffline, now.Add(2*time.Minute))
			Expect(allow3).To(BeTrue())
			Expect(roll3).To(Equal(0), "a new rollup window must reset the aggregate counter")
		})
	})

	When("a rollup bucket has already delivered its aggregate", func() {
		It("keeps suppressing further events until the window rolls over", func() {
			cfg.Alerts.GlobalCapPerMin = 1000
			cfg.Alerts.RollupThreshold = 1
			s := newSuppressor(cfg)

			allow1, roll1 := s.admit("d1", model.ConditionUnityDown, now)
			Expect(allow1).To(BeTrue())
			Expect(roll1).To(Equal(1))

			allow2, _ := s.admit("d2", model.ConditionUnityDown, now.Add(10*time.Second))
			Expect(allow2).To(BeFalse())
		})
	})
})
