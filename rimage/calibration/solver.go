package calibration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/camcal/camcal/logging"
	"github.com/camcal/camcal/rimage/transform"
	"github.com/camcal/camcal/spatialmath"
)

const (
	defaultMaxIterations        = 100
	defaultConvergenceTolerance = 1e-10
	defaultMaxDamping           = 1e10
	defaultDivergencePatience   = 5

	initialDamping = 1e-3
	minDamping     = 1e-15
	// costFloorPerPoint stops the solve once the RMS error is at the level of floating point noise.
	costFloorPerPoint = 1e-18
	// relativeStep sizes the central finite difference for each parameter.
	relativeStep = 1e-6
)

// Full intrinsic vector layout: fx fy cx cy k1 k2 p1 p2 k3 k4 k5 k6.
const (
	idxFx = iota
	idxFy
	idxCx
	idxCy
	idxK1
	idxK2
	idxP1
	idxP2
	idxK3
	idxK4
	idxK5
	idxK6
	numIntrinsics
)

// poseParams is the number of parameters per view: rotation vector then translation.
const poseParams = 6

// SolverConfig configures the nonlinear refinement.
type SolverConfig struct {
	DistortionModel         transform.DistortionType `json:"distortion_model"`
	FixTangentialDistortion bool                     `json:"fix_tangential_distortion"`
	MaxIterations           int                      `json:"max_iterations"`
	ConvergenceTolerance    float64                  `json:"convergence_tolerance"`
	// MaxDamping is the damping above which a rejected step counts towards divergence.
	MaxDamping float64 `json:"max_damping"`
	// DivergencePatience is how many consecutive rejected steps above MaxDamping are tolerated.
	DivergencePatience int `json:"divergence_patience"`
}

// DefaultSolverConfig returns the default solver settings.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		DistortionModel:      transform.SimpleDistortionType,
		MaxIterations:        defaultMaxIterations,
		ConvergenceTolerance: defaultConvergenceTolerance,
		MaxDamping:           defaultMaxDamping,
		DivergencePatience:   defaultDivergencePatience,
	}
}

// WithDefaults fills unset fields with their defaults.
func (cfg SolverConfig) WithDefaults() SolverConfig {
	def := DefaultSolverConfig()
	if cfg.DistortionModel == "" {
		cfg.DistortionModel = def.DistortionModel
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.ConvergenceTolerance == 0 {
		cfg.ConvergenceTolerance = def.ConvergenceTolerance
	}
	if cfg.MaxDamping == 0 {
		cfg.MaxDamping = def.MaxDamping
	}
	if cfg.DivergencePatience == 0 {
		cfg.DivergencePatience = def.DivergencePatience
	}
	return cfg
}

// Validate checks the configuration.
func (cfg SolverConfig) Validate() error {
	if _, err := cfg.DistortionModel.CoefficientCount(); err != nil {
		return err
	}
	if cfg.MaxIterations <= 0 {
		return errors.Errorf("max_iterations must be positive, got %d", cfg.MaxIterations)
	}
	if !(cfg.ConvergenceTolerance > 0) {
		return errors.Errorf("convergence_tolerance must be positive, got %v", cfg.ConvergenceTolerance)
	}
	if !(cfg.MaxDamping > initialDamping) {
		return errors.Errorf("max_damping must exceed %v, got %v", initialDamping, cfg.MaxDamping)
	}
	if cfg.DivergencePatience <= 0 {
		return errors.Errorf("divergence_patience must be positive, got %d", cfg.DivergencePatience)
	}
	return nil
}

// freeIntrinsics lists the indices of the intrinsic vector that the solver may change.
func (cfg SolverConfig) freeIntrinsics() []int {
	free := []int{idxFx, idxFy, idxCx, idxCy, idxK1, idxK2}
	if !cfg.FixTangentialDistortion {
		free = append(free, idxP1, idxP2)
	}
	free = append(free, idxK3)
	if cfg.DistortionModel == transform.RationalDistortionType {
		free = append(free, idxK4, idxK5, idxK6)
	}
	return free
}

// ConvergenceReason says why the solver stopped.
type ConvergenceReason string

const (
	// ReasonRelativeDecrease means the cost stopped decreasing by more than the tolerance.
	ReasonRelativeDecrease = ConvergenceReason("relative decrease below tolerance")
	// ReasonCostFloor means the residuals reached floating point noise.
	ReasonCostFloor = ConvergenceReason("cost at numerical floor")
	// ReasonMaxIterations means the iteration budget ran out first.
	ReasonMaxIterations = ConvergenceReason("maximum iterations reached")
)

// SolverReport summarizes a solve.
type SolverReport struct {
	Iterations  int
	InitialCost float64
	FinalCost   float64
	InitialRMS  float64
	FinalRMS    float64
	Damping     float64
	Converged   bool
	Reason      ConvergenceReason
}

// Solution is the refined camera and poses.
type Solution struct {
	Camera CameraParameters
	Poses  []ViewPose
	Report SolverReport
}

// Solver refines intrinsics, distortion and poses with Levenberg-Marquardt.
type Solver struct {
	cfg    SolverConfig
	logger logging.Logger
}

// NewSolver validates cfg (after filling defaults) and returns a solver.
func NewSolver(cfg SolverConfig, logger logging.Logger) (*Solver, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Solver{cfg: cfg, logger: logger}, nil
}

// Config returns the effective configuration.
func (s *Solver) Config() SolverConfig {
	return s.cfg
}

// Solve minimizes the total squared reprojection error over all views starting from initial.
func (s *Solver) Solve(set *CorrespondenceSet, initial *InitialEstimate) (*Solution, error) {
	views := set.Views()
	if len(views) < MinimumViews {
		return nil, errors.Wrapf(ErrInsufficientViews, "%d views, need at least %d", len(views), MinimumViews)
	}
	if initial == nil || len(initial.Poses) != len(views) {
		return nil, errors.New("initial estimate does not match the views")
	}

	prob := newReprojectionProblem(views, initial, s.cfg)
	x := prob.pack(initial)
	opt := levenbergMarquardt{
		cfg:         s.cfg,
		logger:      s.logger,
		costFloor:   costFloorPerPoint * float64(prob.nPoints),
		problem:     prob,
		blockCount:  len(views),
		sharedCount: len(prob.free),
	}
	x, report, err := opt.minimize(x)
	if err != nil {
		return nil, err
	}
	report.InitialRMS = math.Sqrt(report.InitialCost / float64(prob.nPoints))
	report.FinalRMS = math.Sqrt(report.FinalCost / float64(prob.nPoints))

	camera, poses := prob.unpack(x)
	return &Solution{Camera: camera, Poses: poses, Report: report}, nil
}

// blockProblem is a least squares problem whose parameters are a shared block followed by
// equally sized per-block parameters, and whose residuals split into blocks that only depend on
// the shared parameters and their own block.
type blockProblem interface {
	// residuals writes block b's residuals for the shared parameters and that block's parameters.
	residuals(b int, shared, own []float64, out []float64)
	blockResiduals(b int) int
	blockParams() int
}

// reprojectionProblem maps calibration parameters to pixel residuals.
type reprojectionProblem struct {
	views    []View
	base     [numIntrinsics]float64
	free     []int
	rational bool
	model    transform.DistortionType
	nPoints  int
}

func newReprojectionProblem(views []View, initial *InitialEstimate, cfg SolverConfig) *reprojectionProblem {
	p := &reprojectionProblem{
		views:    views,
		free:     cfg.freeIntrinsics(),
		rational: cfg.DistortionModel == transform.RationalDistortionType,
		model:    cfg.DistortionModel,
	}
	p.base[idxFx] = initial.Camera.Fx
	p.base[idxFy] = initial.Camera.Fy
	p.base[idxCx] = initial.Camera.Cx
	p.base[idxCy] = initial.Camera.Cy
	for i, c := range initial.Camera.Distortion {
		if idxK1+i < numIntrinsics {
			p.base[idxK1+i] = c
		}
	}
	if cfg.FixTangentialDistortion {
		p.base[idxP1], p.base[idxP2] = 0, 0
	}
	if !p.rational {
		p.base[idxK4], p.base[idxK5], p.base[idxK6] = 0, 0, 0
	}
	for _, v := range views {
		p.nPoints += v.Len()
	}
	return p
}

func (p *reprojectionProblem) pack(initial *InitialEstimate) []float64 {
	x := make([]float64, len(p.free)+poseParams*len(p.views))
	for i, idx := range p.free {
		x[i] = p.base[idx]
	}
	for v, pose := range initial.Poses {
		off := len(p.free) + poseParams*v
		x[off], x[off+1], x[off+2] = pose.Rotation.X, pose.Rotation.Y, pose.Rotation.Z
		x[off+3], x[off+4], x[off+5] = pose.Translation.X, pose.Translation.Y, pose.Translation.Z
	}
	return x
}

func (p *reprojectionProblem) intrinsics(shared []float64) [numIntrinsics]float64 {
	full := p.base
	for i, idx := range p.free {
		full[idx] = shared[i]
	}
	return full
}

func (p *reprojectionProblem) unpack(x []float64) (CameraParameters, []ViewPose) {
	full := p.intrinsics(x[:len(p.free)])
	nCoeffs := 5
	if p.rational {
		nCoeffs = 8
	}
	dist := make([]float64, nCoeffs)
	copy(dist, full[idxK1:idxK1+nCoeffs])
	camera := CameraParameters{
		Fx: full[idxFx], Fy: full[idxFy], Cx: full[idxCx], Cy: full[idxCy],
		DistortionModel: p.model,
		Distortion:      dist,
	}
	poses := make([]ViewPose, len(p.views))
	for v := range p.views {
		own := x[len(p.free)+poseParams*v : len(p.free)+poseParams*(v+1)]
		poses[v] = ViewPose{
			Rotation:    r3.Vector{X: own[0], Y: own[1], Z: own[2]},
			Translation: r3.Vector{X: own[3], Y: own[4], Z: own[5]},
		}
	}
	return camera, poses
}

func (p *reprojectionProblem) blockResiduals(b int) int {
	return 2 * p.views[b].Len()
}

func (p *reprojectionProblem) blockParams() int {
	return poseParams
}

func (p *reprojectionProblem) residuals(b int, shared, own, out []float64) {
	k := p.intrinsics(shared)
	bc := transform.BrownConrady{
		RadialK1: k[idxK1], RadialK2: k[idxK2],
		TangentialP1: k[idxP1], TangentialP2: k[idxP2],
		RadialK3: k[idxK3], RadialK4: k[idxK4], RadialK5: k[idxK5], RadialK6: k[idxK6],
		Rational: p.rational,
	}
	rot := spatialmath.RotationVectorToMatrix(r3.Vector{X: own[0], Y: own[1], Z: own[2]})
	t := r3.Vector{X: own[3], Y: own[4], Z: own[5]}
	view := p.views[b]
	for i, obj := range view.ObjectPoints {
		pc := rot.Apply(obj).Add(t)
		xd, yd := bc.Transform(pc.X/pc.Z, pc.Y/pc.Z)
		obs := view.ImagePoints[i]
		out[2*i] = xd*k[idxFx] + k[idxCx] - obs.X
		out[2*i+1] = yd*k[idxFy] + k[idxCy] - obs.Y
	}
}

// levenbergMarquardt minimizes a blockProblem. The normal equations are assembled block by block
// since a block's parameters never touch other blocks' residuals.
type levenbergMarquardt struct {
	cfg         SolverConfig
	logger      logging.Logger
	costFloor   float64
	problem     blockProblem
	blockCount  int
	sharedCount int
}

func (lm *levenbergMarquardt) split(x []float64, b int) ([]float64, []float64) {
	np := lm.problem.blockParams()
	off := lm.sharedCount + np*b
	return x[:lm.sharedCount], x[off : off+np]
}

// cost returns the sum of squared residuals.
func (lm *levenbergMarquardt) cost(x []float64) float64 {
	total := 0.0
	for b := 0; b < lm.blockCount; b++ {
		shared, own := lm.split(x, b)
		r := make([]float64, lm.problem.blockResiduals(b))
		lm.problem.residuals(b, shared, own, r)
		total += floats.Dot(r, r)
	}
	return total
}

// blockJacobian returns the residuals of block b and their central difference Jacobian with
// respect to the shared parameters followed by the block's own parameters.
func (lm *levenbergMarquardt) blockJacobian(x []float64, b int) ([]float64, *mat.Dense) {
	shared, own := lm.split(x, b)
	shared = append([]float64(nil), shared...)
	own = append([]float64(nil), own...)
	m := lm.problem.blockResiduals(b)
	r := make([]float64, m)
	lm.problem.residuals(b, shared, own, r)

	jac := mat.NewDense(m, lm.sharedCount+len(own), nil)
	plus := make([]float64, m)
	minus := make([]float64, m)
	diff := func(params []float64, j, col int) {
		orig := params[j]
		h := relativeStep * math.Max(1, math.Abs(orig))
		params[j] = orig + h
		lm.problem.residuals(b, shared, own, plus)
		params[j] = orig - h
		lm.problem.residuals(b, shared, own, minus)
		params[j] = orig
		floats.Sub(plus, minus)
		floats.Scale(1/(2*h), plus)
		jac.SetCol(col, plus)
	}
	for j := range shared {
		diff(shared, j, j)
	}
	for j := range own {
		diff(own, j, lm.sharedCount+j)
	}
	return r, jac
}

// normalEquations assembles J^T J and J^T r.
func (lm *levenbergMarquardt) normalEquations(x []float64) (*mat.SymDense, []float64) {
	n := len(x)
	np := lm.problem.blockParams()
	jtj := mat.NewSymDense(n, nil)
	jtr := make([]float64, n)
	for b := 0; b < lm.blockCount; b++ {
		r, jac := lm.blockJacobian(x, b)
		_, cols := jac.Dims()
		// column c of the block Jacobian maps to parameter index global(c)
		global := func(c int) int {
			if c < lm.sharedCount {
				return c
			}
			return lm.sharedCount + np*b + (c - lm.sharedCount)
		}
		var local mat.SymDense
		local.SymOuterK(1, jac.T())
		var g mat.VecDense
		g.MulVec(jac.T(), mat.NewVecDense(len(r), r))
		for i := 0; i < cols; i++ {
			gi := global(i)
			jtr[gi] += g.AtVec(i)
			for j := i; j < cols; j++ {
				gj := global(j)
				jtj.SetSym(gi, gj, jtj.At(gi, gj)+local.At(i, j))
			}
		}
	}
	return jtj, jtr
}

// step solves (S A S + lambda I) y = -S g with S = diag(1/sqrt(A_ii)) and returns S y.
func step(a *mat.SymDense, g []float64, lambda float64) ([]float64, bool) {
	n := len(g)
	scale := make([]float64, n)
	for i := range scale {
		d := a.At(i, i)
		if d > 0 {
			scale[i] = 1 / math.Sqrt(d)
		} else {
			scale[i] = 1
		}
	}
	damped := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := a.At(i, j) * scale[i] * scale[j]
			if i == j {
				v += lambda
			}
			damped.SetSym(i, j, v)
		}
	}
	rhs := make([]float64, n)
	for i := range rhs {
		rhs[i] = -g[i] * scale[i]
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(damped); !ok {
		return nil, false
	}
	var y mat.VecDense
	if err := chol.SolveVecTo(&y, mat.NewVecDense(n, rhs)); err != nil {
		return nil, false
	}
	delta := make([]float64, n)
	for i := range delta {
		delta[i] = y.AtVec(i) * scale[i]
	}
	return delta, !floats.HasNaN(delta)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (lm *levenbergMarquardt) minimize(x []float64) ([]float64, SolverReport, error) {
	x = append([]float64(nil), x...)
	cost := lm.cost(x)
	report := SolverReport{InitialCost: cost}
	if !isFinite(cost) {
		return nil, report, errors.Wrap(ErrSolverDivergence, "initial estimate has non-finite reprojection error")
	}

	lambda := initialDamping
	stalled := 0
	a, g := lm.normalEquations(x)
	trial := make([]float64, len(x))
	for report.Iterations < lm.cfg.MaxIterations {
		if cost <= lm.costFloor {
			report.Converged, report.Reason = true, ReasonCostFloor
			break
		}
		report.Iterations++

		newCost := math.Inf(1)
		delta, ok := step(a, g, lambda)
		if ok {
			floats.AddTo(trial, x, delta)
			newCost = lm.cost(trial)
		}

		if isFinite(newCost) && newCost < cost {
			rel := (cost - newCost) / cost
			copy(x, trial)
			cost = newCost
			lambda = math.Max(lambda/10, minDamping)
			stalled = 0
			lm.logger.Debugw("solver step accepted", "iteration", report.Iterations, "cost", cost, "damping", lambda)
			if rel < lm.cfg.ConvergenceTolerance {
				report.Converged, report.Reason = true, ReasonRelativeDecrease
				break
			}
			if cost <= lm.costFloor {
				report.Converged, report.Reason = true, ReasonCostFloor
				break
			}
			a, g = lm.normalEquations(x)
			continue
		}

		// Rejected. A tiny change means the minimum has been reached to within the tolerance.
		if isFinite(newCost) && math.Abs(newCost-cost) <= lm.cfg.ConvergenceTolerance*cost {
			report.Converged, report.Reason = true, ReasonRelativeDecrease
			break
		}
		lambda *= 10
		lm.logger.Debugw("solver step rejected", "iteration", report.Iterations, "trial_cost", newCost, "damping", lambda)
		if lambda > lm.cfg.MaxDamping {
			stalled++
			if stalled >= lm.cfg.DivergencePatience {
				report.FinalCost, report.Damping = cost, lambda
				return nil, report, errors.Wrapf(ErrSolverDivergence,
					"damping above %g for %d consecutive iterations without improvement", lm.cfg.MaxDamping, stalled)
			}
		}
	}
	if !report.Converged {
		report.Reason = ReasonMaxIterations
	}
	report.FinalCost = cost
	report.Damping = lambda
	return x, report, nil
}
