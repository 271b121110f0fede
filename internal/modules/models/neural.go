package models

import (
	"fmt"
	"math"
	"math/rand"
)

// NeuralSlot is the regime-aware neural regressor: the first macroDim
// feature columns (the macro block, identical across entities within a
// period) run through a small encoder producing a regime embedding, which
// is concatenated with the remaining characteristic columns and fed to the
// return head. Trained with minibatch Adam on squared error. Initialization
// is seeded, so a fitted slot is reproducible.
type NeuralSlot struct {
	name      string
	macroDim  int
	embedDim  int
	epochs    int
	batchSize int
	lr        float64
	seed      int64

	scaler  *StandardScaler
	encoder []*denseLayer
	head    []*denseLayer
	step    int
	fitted  bool
}

// NewRegimeNet creates a regime-aware neural slot. macroDim is the number
// of leading macro columns in the feature matrix.
func NewRegimeNet(macroDim int, epochs int, seed int64) (*NeuralSlot, error) {
	if macroDim < 1 {
		return nil, fmt.Errorf("RegimeNN: macro dimension must be >= 1, got %d", macroDim)
	}
	return &NeuralSlot{
		name:      "RegimeNN",
		macroDim:  macroDim,
		embedDim:  16,
		epochs:    epochs,
		batchSize: 256,
		lr:        1e-3,
		seed:      seed,
		scaler:    &StandardScaler{},
	}, nil
}

// Name returns the slot name.
func (s *NeuralSlot) Name() string { return s.name }

// Fit trains the network in place.
func (s *NeuralSlot) Fit(X [][]float64, y []float64) error {
	X = Sanitize(X)
	y = SanitizeVector(y)
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("%s: invalid training shape (%d rows, %d targets)", s.name, len(X), len(y))
	}
	charDim := len(X[0]) - s.macroDim
	if charDim < 1 {
		return fmt.Errorf("%s: feature width %d leaves no characteristic columns after %d macro columns",
			s.name, len(X[0]), s.macroDim)
	}

	scaled, err := s.scaler.FitTransform(X)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}

	rng := rand.New(rand.NewSource(s.seed))
	s.encoder = []*denseLayer{
		newDenseLayer(s.macroDim, 32, true, rng),
		newDenseLayer(32, s.embedDim, true, rng),
	}
	s.head = []*denseLayer{
		newDenseLayer(charDim+s.embedDim, 64, true, rng),
		newDenseLayer(64, 32, true, rng),
		newDenseLayer(32, 1, false, rng),
	}
	s.step = 0

	n := len(scaled)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < s.epochs; epoch++ {
		rng.Shuffle(n, func(a, b int) { order[a], order[b] = order[b], order[a] })
		for start := 0; start < n; start += s.batchSize {
			end := start + s.batchSize
			if end > n {
				end = n
			}
			s.trainBatch(scaled, y, order[start:end])
		}
	}

	s.fitted = true
	return nil
}

// trainBatch accumulates gradients over one minibatch and applies a single
// Adam step.
func (s *NeuralSlot) trainBatch(X [][]float64, y []float64, batch []int) {
	layers := append(append([]*denseLayer{}, s.encoder...), s.head...)
	for _, l := range layers {
		l.zeroGrad()
	}

	scale := 1.0 / float64(len(batch))
	for _, i := range batch {
		pred, caches := s.forward(X[i])
		// dLoss/dPred for squared error
		dOut := []float64{2 * (pred - y[i]) * scale}
		s.backward(dOut, caches)
	}

	s.step++
	for _, l := range layers {
		l.adamStep(s.lr, s.step)
	}
}

// layerCache records one layer's input and pre-activation for backprop.
type layerCache struct {
	layer *denseLayer
	input []float64
	pre   []float64
}

// forward runs one row through encoder and head, recording caches in
// execution order.
func (s *NeuralSlot) forward(row []float64) (float64, []layerCache) {
	macro := row[:s.macroDim]
	chars := row[s.macroDim:]

	caches := make([]layerCache, 0, len(s.encoder)+len(s.head))
	h := macro
	for _, l := range s.encoder {
		in := h
		out, pre := l.forward(in)
		caches = append(caches, layerCache{layer: l, input: in, pre: pre})
		h = out
	}

	joined := make([]float64, 0, len(chars)+len(h))
	joined = append(joined, chars...)
	joined = append(joined, h...)

	h = joined
	for _, l := range s.head {
		in := h
		out, pre := l.forward(in)
		caches = append(caches, layerCache{layer: l, input: in, pre: pre})
		h = out
	}
	return h[0], caches
}

// backward propagates the output gradient through head and encoder,
// accumulating parameter gradients. The characteristic part of the joined
// input has no upstream parameters, so its gradient is discarded; the
// embedding part flows into the encoder.
func (s *NeuralSlot) backward(dOut []float64, caches []layerCache) {
	grad := dOut
	// Head layers, in reverse
	for i := len(caches) - 1; i >= len(s.encoder); i-- {
		grad = caches[i].layer.backward(grad, caches[i].input, caches[i].pre)
	}
	// Split the joined-input gradient: embedding part only
	grad = grad[len(grad)-s.embedDim:]
	for i := len(s.encoder) - 1; i >= 0; i-- {
		grad = caches[i].layer.backward(grad, caches[i].input, caches[i].pre)
	}
}

// Predict returns one predicted value per row.
func (s *NeuralSlot) Predict(X [][]float64) ([]float64, error) {
	if !s.fitted {
		return nil, fmt.Errorf("%s: predict before fit", s.name)
	}
	X = Sanitize(X)
	scaled, err := s.scaler.Transform(X)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}

	preds := make([]float64, len(scaled))
	for i, row := range scaled {
		pred, _ := s.forward(row)
		preds[i] = pred
	}
	return preds, nil
}

// denseLayer is a fully connected layer with optional ReLU and Adam state.
type denseLayer struct {
	in, out int
	relu    bool
	w       []float64 // out*in, row-major
	b       []float64

	gw, gb []float64 // accumulated gradients
	mw, vw []float64 // Adam first/second moments
	mb, vb []float64
}

func newDenseLayer(in, out int, relu bool, rng *rand.Rand) *denseLayer {
	l := &denseLayer{
		in: in, out: out, relu: relu,
		w:  make([]float64, in*out),
		b:  make([]float64, out),
		gw: make([]float64, in*out),
		gb: make([]float64, out),
		mw: make([]float64, in*out),
		vw: make([]float64, in*out),
		mb: make([]float64, out),
		vb: make([]float64, out),
	}
	// He initialization for ReLU layers
	scale := math.Sqrt(2.0 / float64(in))
	for i := range l.w {
		l.w[i] = rng.NormFloat64() * scale
	}
	return l
}

// forward returns (activation, pre-activation).
func (l *denseLayer) forward(in []float64) ([]float64, []float64) {
	pre := make([]float64, l.out)
	for o := 0; o < l.out; o++ {
		v := l.b[o]
		row := l.w[o*l.in : (o+1)*l.in]
		for j, x := range in {
			v += row[j] * x
		}
		pre[o] = v
	}
	if !l.relu {
		return pre, pre
	}
	act := make([]float64, l.out)
	for o, v := range pre {
		if v > 0 {
			act[o] = v
		}
	}
	return act, pre
}

// backward accumulates gradients for one sample and returns the gradient
// with respect to the layer input.
func (l *denseLayer) backward(dOut, in, pre []float64) []float64 {
	dIn := make([]float64, l.in)
	for o := 0; o < l.out; o++ {
		g := dOut[o]
		if l.relu && pre[o] <= 0 {
			continue
		}
		l.gb[o] += g
		row := l.w[o*l.in : (o+1)*l.in]
		grow := l.gw[o*l.in : (o+1)*l.in]
		for j := 0; j < l.in; j++ {
			grow[j] += g * in[j]
			dIn[j] += g * row[j]
		}
	}
	return dIn
}

func (l *denseLayer) zeroGrad() {
	for i := range l.gw {
		l.gw[i] = 0
	}
	for i := range l.gb {
		l.gb[i] = 0
	}
}

// adamStep applies one Adam update with bias correction.
func (l *denseLayer) adamStep(lr float64, step int) {
	const (
		beta1 = 0.9
		beta2 = 0.999
		eps   = 1e-8
	)
	c1 := 1 - math.Pow(beta1, float64(step))
	c2 := 1 - math.Pow(beta2, float64(step))

	for i := range l.w {
		l.mw[i] = beta1*l.mw[i] + (1-beta1)*l.gw[i]
		l.vw[i] = beta2*l.vw[i] + (1-beta2)*l.gw[i]*l.gw[i]
		l.w[i] -= lr * (l.mw[i] / c1) / (math.Sqrt(l.vw[i]/c2) + eps)
	}
	for i := range l.b {
		l.mb[i] = beta1*l.mb[i] + (1-beta1)*l.gb[i]
		l.vb[i] = beta2*l.vb[i] + (1-beta2)*l.gb[i]*l.gb[i]
		l.b[i] -= lr * (l.mb[i] / c1) / (math.Sqrt(l.vb[i]/c2) + eps)
	}
}
