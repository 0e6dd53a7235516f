package learning

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	orcherrors "github.com/developer-mesh/orchestration-core/pkg/errors"
	"github.com/developer-mesh/orchestration-core/pkg/models"
	"github.com/developer-mesh/orchestration-core/pkg/observability"
)

// winnerThreshold is the success-rate gap, in absolute terms, required
// to declare an A/B winner.
const winnerThreshold = 0.05

// ABTestConfig describes one model-pair experiment.
type ABTestConfig struct {
	ModelA string `mapstructure:"model_a" validate:"required"`
	ModelB string `mapstructure:"model_b" validate:"required"`
	// TaskType restricts the experiment to one task class.
	TaskType models.TaskType `mapstructure:"task_type" validate:"required"`
	// TrafficSplit is the share of assignments going to model A.
	TrafficSplit float64 `mapstructure:"traffic_split" validate:"gt=0,lt=1"`
	// MinSamples is the per-arm floor before analysis concludes.
	MinSamples int `mapstructure:"min_samples" validate:"gt=0"`
	// DurationDays bounds how long the test accepts observations.
	DurationDays int `mapstructure:"duration_days" validate:"gt=0"`
}

// ABVerdict is the outcome of an analysis.
type ABVerdict string

// Analysis verdicts.
const (
	VerdictInconclusive        ABVerdict = "inconclusive"
	VerdictInsufficientSamples ABVerdict = "insufficient_samples"
)

// ArmStats summarizes one arm of a test.
type ArmStats struct {
	ModelID     string  `json:"model_id"`
	Samples     int     `json:"samples"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
	MeanScore   float64 `json:"mean_score"`
}

// ABAnalysis is the result of analyzing a test.
type ABAnalysis struct {
	TestID string   `json:"test_id"`
	ArmA   ArmStats `json:"arm_a"`
	ArmB   ArmStats `json:"arm_b"`
	// Winner holds the winning model id, or a verdict label when no
	// winner can be declared.
	Winner string `json:"winner"`
}

// abArm accumulates observations for one model.
type abArm struct {
	modelID   string
	samples   int
	successes int
	scoreSum  float64
}

func (a *abArm) stats() ArmStats {
	s := ArmStats{ModelID: a.modelID, Samples: a.samples, Successes: a.successes}
	if a.samples > 0 {
		s.SuccessRate = float64(a.successes) / float64(a.samples)
		s.MeanScore = a.scoreSum / float64(a.samples)
	}
	return s
}

// abTest is one running experiment.
type abTest struct {
	id        string
	config    ABTestConfig
	armA      abArm
	armB      abArm
	startedAt time.Time
	expiresAt time.Time
}

// ABTester runs concurrent A/B tests. Assignment is random per request
// subject to the traffic split.
type ABTester struct {
	mu     sync.Mutex
	tests  map[string]*abTest
	logger observability.Logger
	rng    *rand.Rand
	now    func() time.Time
}

// NewABTester creates an A/B tester.
func NewABTester(logger observability.Logger) *ABTester {
	return &ABTester{
		tests:  make(map[string]*abTest),
		logger: logger.WithPrefix("abtest"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

// StartTest registers an experiment and returns its id.
func (t *ABTester) StartTest(config ABTestConfig) (string, error) {
	if config.ModelA == "" || config.ModelB == "" || config.ModelA == config.ModelB {
		return "", orcherrors.New(orcherrors.KindConfig, "ab test requires two distinct models")
	}
	if config.TrafficSplit <= 0 || config.TrafficSplit >= 1 {
		return "", orcherrors.New(orcherrors.KindConfig, "traffic split must be in (0,1)")
	}
	if config.MinSamples <= 0 {
		return "", orcherrors.New(orcherrors.KindConfig, "min samples must be positive")
	}
	if config.DurationDays <= 0 {
		return "", orcherrors.New(orcherrors.KindConfig, "duration must be positive")
	}

	now := t.now()
	test := &abTest{
		id:        uuid.New().String(),
		config:    config,
		armA:      abArm{modelID: config.ModelA},
		armB:      abArm{modelID: config.ModelB},
		startedAt: now,
		expiresAt: now.AddDate(0, 0, config.DurationDays),
	}

	t.mu.Lock()
	t.tests[test.id] = test
	t.mu.Unlock()

	t.logger.Info("ab test started", map[string]interface{}{
		"test_id":   test.id,
		"model_a":   config.ModelA,
		"model_b":   config.ModelB,
		"task_type": string(config.TaskType),
	})
	return test.id, nil
}

// Assign picks the arm for one request. Returns model A with
// probability TrafficSplit. Expired tests no longer take traffic.
func (t *ABTester) Assign(testID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	test, ok := t.tests[testID]
	if !ok {
		return "", orcherrors.Newf(orcherrors.KindConfig, "unknown ab test %s", testID)
	}
	if t.now().After(test.expiresAt) {
		return "", orcherrors.Newf(orcherrors.KindConfig, "ab test %s has expired", testID)
	}
	if t.rng.Float64() < test.config.TrafficSplit {
		return test.config.ModelA, nil
	}
	return test.config.ModelB, nil
}

// RecordObservation folds one outcome into the arm serving modelID.
// Observations after the test expires are dropped.
func (t *ABTester) RecordObservation(testID, modelID string, success bool, score float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	test, ok := t.tests[testID]
	if !ok {
		return orcherrors.Newf(orcherrors.KindConfig, "unknown ab test %s", testID)
	}
	if t.now().After(test.expiresAt) {
		return nil
	}

	var arm *abArm
	switch modelID {
	case test.config.ModelA:
		arm = &test.armA
	case test.config.ModelB:
		arm = &test.armB
	default:
		return orcherrors.Newf(orcherrors.KindConfig, "model %s is not an arm of test %s", modelID, testID)
	}

	arm.samples++
	if success {
		arm.successes++
	}
	arm.scoreSum += score
	return nil
}

// Analyze reports per-arm statistics and declares a winner when both
// arms have enough samples and the success-rate gap exceeds five
// percentage points.
func (t *ABTester) Analyze(testID string) (ABAnalysis, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	test, ok := t.tests[testID]
	if !ok {
		return ABAnalysis{}, orcherrors.Newf(orcherrors.KindConfig, "unknown ab test %s", testID)
	}

	analysis := ABAnalysis{
		TestID: testID,
		ArmA:   test.armA.stats(),
		ArmB:   test.armB.stats(),
	}

	if analysis.ArmA.Samples < test.config.MinSamples || analysis.ArmB.Samples < test.config.MinSamples {
		analysis.Winner = string(VerdictInsufficientSamples)
		return analysis, nil
	}

	diff := analysis.ArmA.SuccessRate - analysis.ArmB.SuccessRate
	switch {
	case diff > winnerThreshold:
		analysis.Winner = test.config.ModelA
	case diff < -winnerThreshold:
		analysis.Winner = test.config.ModelB
	default:
		analysis.Winner = string(VerdictInconclusive)
	}
	return analysis, nil
}
