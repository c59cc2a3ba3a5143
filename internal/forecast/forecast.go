// Package forecast fits an ordinary least squares model of event attendance.
//
// Features are built in a fixed order:
//
//	[category_code, month, weekday] (+ duration_minutes when every record has one)
//
// Category codes are 0-based in first-seen order and belong to the fitted Model;
// they are never shared between datasets. The fit uses an intercept, no
// regularization and no scaling. Coefficients are the minimum-norm least squares
// solution on centered data (via SVD), so collinear, tiny, or single-row datasets
// still produce a valid model.
//
// Quality metrics are in-sample: they describe how well the model reproduces the
// data it was fitted on, not how well it generalizes.
//
// A Model is immutable once Fit returns and may be shared across goroutines.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/impactboard/internal/logger"
	"github.com/rewired-gh/impactboard/internal/models"
)

// Feature names in model order
const (
	FeatureCategory = "category_code"
	FeatureMonth    = "month"
	FeatureWeekday  = "weekday"
	FeatureDuration = "duration_minutes"
)

// rankTolerance is the relative singular value cutoff used to decide the effective rank.
const rankTolerance = 1e-10

// ErrInsufficientData is returned by Fit when no usable records remain.
var ErrInsufficientData = errors.New("insufficient data: no usable records to fit")

// Model is a fitted attendance model together with its category encoding.
type Model struct {
	id       string
	fittedAt time.Time

	features     []string
	intercept    float64
	coefficients []float64

	categoryCodes map[string]int
	categories    []string // index = code

	// Fit-time attendance per category, for historical comparisons
	categoryTotals map[string]float64
	categoryCounts map[string]int

	quality Quality
}

// Quality summarizes the in-sample fit.
type Quality struct {
	RSquared     float64 // NaN when attendance has zero variance
	FeatureCount int
	Samples      int
}

// Fit builds a new Model from records. Records failing Validate are skipped.
func Fit(records []models.EventRecord) (*Model, error) {
	usable := make([]models.EventRecord, 0, len(records))
	for i := range records {
		if err := records[i].Validate(); err != nil {
			logger.Debug("Skipping record %d for fit: %v", i, err)
			continue
		}
		usable = append(usable, records[i])
	}
	if len(usable) == 0 {
		return nil, ErrInsufficientData
	}

	m := &Model{
		id:             uuid.New().String(),
		fittedAt:       time.Now(),
		categoryCodes:  make(map[string]int),
		categoryTotals: make(map[string]float64),
		categoryCounts: make(map[string]int),
	}

	withDuration := true
	for i := range usable {
		if !usable[i].HasDuration() {
			withDuration = false
		}
		category := usable[i].Category
		if _, seen := m.categoryCodes[category]; !seen {
			m.categoryCodes[category] = len(m.categories)
			m.categories = append(m.categories, category)
		}
		m.categoryTotals[category] += float64(usable[i].Attendance)
		m.categoryCounts[category]++
	}

	m.features = []string{FeatureCategory, FeatureMonth, FeatureWeekday}
	if withDuration {
		m.features = append(m.features, FeatureDuration)
	}

	n, k := len(usable), len(m.features)
	x := make([]float64, 0, n*k)
	y := make([]float64, n)
	for i := range usable {
		r := &usable[i]
		row := []float64{float64(m.categoryCodes[r.Category]), float64(r.Month), float64(r.Weekday)}
		if withDuration {
			row = append(row, float64(*r.DurationMinutes))
		}
		x = append(x, row...)
		y[i] = float64(r.Attendance)
	}

	intercept, coefficients, err := leastSquares(mat.NewDense(n, k, x), y)
	if err != nil {
		return nil, fmt.Errorf("failed to fit attendance model: %w", err)
	}
	m.intercept = intercept
	m.coefficients = coefficients

	fitted := make([]float64, n)
	for i := 0; i < n; i++ {
		fitted[i] = m.intercept + floats.Dot(m.coefficients, x[i*k:(i+1)*k])
	}
	m.quality = Quality{
		RSquared:     rSquared(fitted, y),
		FeatureCount: k,
		Samples:      n,
	}

	logger.Debug("Fitted attendance model %s: samples=%d features=%v r2=%.4f",
		m.id, n, m.features, m.quality.RSquared)

	return m, nil
}

// leastSquares solves y ≈ intercept + X·β. Columns of X and y are centered so the
// intercept separates out; β is the minimum-norm solution over the effective rank.
func leastSquares(x *mat.Dense, y []float64) (float64, []float64, error) {
	n, k := x.Dims()

	means := make([]float64, k)
	centered := mat.NewDense(n, k, nil)
	for j := 0; j < k; j++ {
		col := mat.Col(nil, j, x)
		means[j] = stat.Mean(col, nil)
		for i := range col {
			centered.Set(i, j, col[i]-means[j])
		}
	}

	yMean := stat.Mean(y, nil)
	yc := make([]float64, n)
	for i := range y {
		yc[i] = y[i] - yMean
	}

	beta := make([]float64, k)

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return 0, nil, errors.New("singular value decomposition failed")
	}

	if rank := svd.Rank(rankTolerance); rank > 0 {
		var solution mat.VecDense
		svd.SolveVecTo(&solution, mat.NewVecDense(n, yc), rank)
		for j := 0; j < k; j++ {
			beta[j] = solution.AtVec(j)
		}
	}

	intercept := yMean - floats.Dot(beta, means)
	return intercept, beta, nil
}

func rSquared(fitted, observed []float64) float64 {
	mean := stat.Mean(observed, nil)
	var ssTot float64
	for _, v := range observed {
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot == 0 {
		return math.NaN()
	}
	return stat.RSquaredFrom(fitted, observed, nil)
}

// ID uniquely identifies this fit.
func (m *Model) ID() string {
	return m.id
}

// FittedAt returns when the model was fitted.
func (m *Model) FittedAt() time.Time {
	return m.fittedAt
}

// Quality returns the in-sample fit metrics.
func (m *Model) Quality() Quality {
	return m.quality
}

// Features returns the feature names in model order.
func (m *Model) Features() []string {
	return append([]string(nil), m.features...)
}

// UsesDuration reports whether predictions require a duration.
func (m *Model) UsesDuration() bool {
	return len(m.features) == 4
}

// Intercept returns the fitted intercept.
func (m *Model) Intercept() float64 {
	return m.intercept
}

// Coefficients returns a copy of the coefficients in feature order.
func (m *Model) Coefficients() []float64 {
	return append([]float64(nil), m.coefficients...)
}

// Categories returns the known categories ordered by their code.
func (m *Model) Categories() []string {
	return append([]string(nil), m.categories...)
}

// CategoryCode returns the integer code for category.
func (m *Model) CategoryCode(category string) (int, error) {
	code, ok := m.categoryCodes[category]
	if !ok {
		return 0, &UnknownCategoryError{Category: category, Known: m.Categories()}
	}
	return code, nil
}
