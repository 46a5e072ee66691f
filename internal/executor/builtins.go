package executor

import (
	"fmt"
	"math"
	"math/big"
	"math/rand/v2"
)

const (
	TypePrimeCheck     = "prime_check"
	TypeFibonacci      = "fibonacci"
	TypeMatrixMultiply = "matrix_multiply"
)

// maxMatrixSize keeps a single matrix_multiply task within a few seconds on a Pi
const maxMatrixSize = 512

// PrimeCheck reports whether data["number"] is prime
func PrimeCheck(data map[string]any) (any, error) {
	n, err := intArg(data, "number")
	if err != nil {
		return nil, err
	}
	return isPrime(n), nil
}

func isPrime(n int64) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for i := int64(3); i <= n/i; i += 2 {
		if n%i == 0 {
			return false
		}
	}
	return true
}

// Fibonacci returns the data["n"]-th Fibonacci number, 0 for n <= 0
func Fibonacci(data map[string]any) (any, error) {
	n, err := intArg(data, "n")
	if err != nil {
		return nil, err
	}
	return fibonacci(n), nil
}

func fibonacci(n int64) *big.Int {
	a, b := big.NewInt(0), big.NewInt(1)
	if n <= 0 {
		return a
	}
	for i := int64(2); i <= n; i++ {
		a.Add(a, b)
		a, b = b, a
	}
	return b
}

// MatrixMultiply multiplies two random data["size"] square matrices and
// reports completion. It exists to load the worker's CPU.
func MatrixMultiply(data map[string]any) (any, error) {
	size, err := intArg(data, "size")
	if err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, fmt.Errorf("size must be non-negative, got %d", size)
	}
	if size > maxMatrixSize {
		return nil, fmt.Errorf("size must be at most %d, got %d", maxMatrixSize, size)
	}

	a := randomMatrix(int(size))
	b := randomMatrix(int(size))
	_ = multiply(a, b)

	return map[string]any{"size": size, "completed": true}, nil
}

func randomMatrix(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		for j := range m[i] {
			m[i][j] = rand.Float64()
		}
	}
	return m
}

func multiply(m1, m2 [][]float64) [][]float64 {
	n := len(m1)
	result := make([][]float64, n)
	for i := range result {
		result[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			sum := 0.0
			for k := 0; k < n; k++ {
				sum += m1[i][k] * m2[k][j]
			}
			result[i][j] = sum
		}
	}
	return result
}

// intArg reads an integral number from data, 0 when absent
func intArg(data map[string]any, key string) (int64, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return 0, nil
	}

	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.Abs(v) >= math.MaxInt64 {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, v)
		}
		return int64(v), nil
	case interface{ Int64() (int64, error) }:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, raw)
	}
}
