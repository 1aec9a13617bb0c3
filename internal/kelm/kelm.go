package kelm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// InvalidHyperparameterError reports a hyperparameter outside its
// valid domain.
type InvalidHyperparameterError struct {
	Name  string
	Value float64
}

func (e *InvalidHyperparameterError) Error() string {
	return fmt.Sprintf("invalid hyperparameter %s=%g: must be positive", e.Name, e.Value)
}

func (e *InvalidHyperparameterError) IsTransient() bool { return false }

// UntrainedModelError reports a fit attempted on an empty dataset or a
// prediction against a model with no support set.
type UntrainedModelError struct{}

func (e *UntrainedModelError) Error() string { return "model has no training data" }

func (e *UntrainedModelError) IsTransient() bool { return false }

// SingularKernelError reports a regularized kernel matrix that stayed
// non positive definite even after jitter.
type SingularKernelError struct {
	C     float64
	Gamma float64
}

func (e *SingularKernelError) Error() string {
	return fmt.Sprintf("kernel matrix singular at C=%g gamma=%g", e.C, e.Gamma)
}

func (e *SingularKernelError) IsTransient() bool { return false }

// jitter is added to the diagonal on one retry after a failed
// factorization.
const jitter = 1e-8

// RBF evaluates the radial basis kernel exp(-gamma * ||a-b||^2)
func RBF(a, b []float64, gamma float64) float64 {
	var sq float64
	for i := range a {
		d := a[i] - b[i]
		sq += d * d
	}
	return math.Exp(-gamma * sq)
}

// Train solves the kernel ridge system (K + I/C) alpha = y in closed
// form via Cholesky factorization. The inputs become the model's
// support set, so callers keep them alongside the returned weights.
func Train(x [][]float64, y []float64, c, gamma float64) ([]float64, error) {
	if c <= 0 {
		return nil, &InvalidHyperparameterError{Name: "C", Value: c}
	}
	if gamma <= 0 {
		return nil, &InvalidHyperparameterError{Name: "gamma", Value: gamma}
	}
	n := len(x)
	if n == 0 || len(y) != n {
		return nil, &UntrainedModelError{}
	}

	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			k.SetSym(i, j, RBF(x[i], x[j], gamma))
		}
		k.SetSym(i, i, k.At(i, i)+1.0/c)
	}

	alpha, err := solveCholesky(k, y)
	if err != nil {
		for i := 0; i < n; i++ {
			k.SetSym(i, i, k.At(i, i)+jitter)
		}
		alpha, err = solveCholesky(k, y)
		if err != nil {
			return nil, &SingularKernelError{C: c, Gamma: gamma}
		}
	}

	return alpha, nil
}

func solveCholesky(k *mat.SymDense, y []float64) ([]float64, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(k); !ok {
		return nil, fmt.Errorf("factorization failed")
	}

	n := len(y)
	rhs := mat.NewVecDense(n, append([]float64(nil), y...))
	var solution mat.VecDense
	if err := chol.SolveVecTo(&solution, rhs); err != nil {
		return nil, err
	}

	alpha := make([]float64, n)
	copy(alpha, solution.RawVector().Data)
	return alpha, nil
}

// Predict evaluates the trained model at one query point. It is a pure
// function of its inputs: no state is read or written, so concurrent
// calls are safe and identical inputs give identical outputs.
func Predict(supports [][]float64, alpha []float64, gamma float64, query []float64) (float64, error) {
	if len(supports) == 0 || len(alpha) != len(supports) {
		return 0, &UntrainedModelError{}
	}

	var sum float64
	for i, s := range supports {
		sum += alpha[i] * RBF(s, query, gamma)
	}
	return sum, nil
}

// PredictBatch evaluates the model over many query points
func PredictBatch(supports [][]float64, alpha []float64, gamma float64, queries [][]float64) ([]float64, error) {
	out := make([]float64, len(queries))
	for i, q := range queries {
		v, err := Predict(supports, alpha, gamma, q)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// MSE computes mean squared error between predictions and targets
func MSE(predicted, actual []float64) float64 {
	if len(predicted) == 0 {
		return math.NaN()
	}
	var sum float64
	for i := range predicted {
		d := predicted[i] - actual[i]
		sum += d * d
	}
	return sum / float64(len(predicted))
}

// RMSE computes root mean squared error
func RMSE(predicted, actual []float64) float64 {
	return math.Sqrt(MSE(predicted, actual))
}

// MAE computes mean absolute error
func MAE(predicted, actual []float64) float64 {
	if len(predicted) == 0 {
		return math.NaN()
	}
	var sum float64
	for i := range predicted {
		sum += math.Abs(predicted[i] - actual[i])
	}
	return sum / float64(len(predicted))
}
