// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// OptimizerKind selects the parameter-update rule. Each kind carries its
// hyperparameters in OptimizerConfig and is resolved once, at model
// construction, into an Optimizer.
type OptimizerKind int

const (
	SGD OptimizerKind = iota
	Adagrad
	Adam
	RMSProp
)

// String returns the config-file name of the kind.
func (k OptimizerKind) String() string {
	switch k {
	case SGD:
		return "sgd"
	case Adagrad:
		return "adagrad"
	case Adam:
		return "adam"
	case RMSProp:
		return "rmsprop"
	default:
		return fmt.Sprintf("OptimizerKind(%d)", int(k))
	}
}

// ParseOptimizerKind resolves a config-file name into a kind.
func ParseOptimizerKind(name string) (OptimizerKind, error) {
	switch name {
	case "sgd":
		return SGD, nil
	case "adagrad":
		return Adagrad, nil
	case "adam":
		return Adam, nil
	case "rmsprop":
		return RMSProp, nil
	default:
		return 0, fmt.Errorf("unknown optimizer %q (want sgd, adagrad, adam or rmsprop)", name)
	}
}

// OptimizerConfig is the tagged variant holding the hyperparameters of
// every kind; only the fields of the selected kind are read.
type OptimizerConfig struct {
	Kind OptimizerKind

	// Epsilon guards the denominators of Adagrad, Adam and RMSProp.
	Epsilon float64

	// Beta1 and Beta2 are the Adam moment decay rates.
	Beta1 float64
	Beta2 float64

	// Rho is the RMSProp moving-average decay.
	Rho float64
}

// DefaultOptimizerConfig returns the usual hyperparameters for a kind.
func DefaultOptimizerConfig(kind OptimizerKind) OptimizerConfig {
	return OptimizerConfig{
		Kind:    kind,
		Epsilon: 1e-8,
		Beta1:   0.9,
		Beta2:   0.999,
		Rho:     0.9,
	}
}

// Optimizer applies one gradient update to a flat parameter vector. The
// learning rate is passed per call because the scheduler decays it
// between checkpoints.
type Optimizer interface {
	// Apply updates params in place. params and grads must have the
	// length the optimizer was built for.
	Apply(params, grads []float64, learningRate float64)
}

// New resolves the config into an optimizer for dim parameters.
func (c OptimizerConfig) New(dim int) (Optimizer, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("optimizer dimension must be positive, got %d", dim)
	}
	eps := c.Epsilon
	if eps == 0 {
		eps = 1e-8
	}
	switch c.Kind {
	case SGD:
		return sgd{}, nil
	case Adagrad:
		return &adagrad{accum: make([]float64, dim), eps: eps}, nil
	case Adam:
		beta1, beta2 := c.Beta1, c.Beta2
		if beta1 == 0 {
			beta1 = 0.9
		}
		if beta2 == 0 {
			beta2 = 0.999
		}
		return &adam{
			m: make([]float64, dim), v: make([]float64, dim),
			beta1: beta1, beta2: beta2, eps: eps,
		}, nil
	case RMSProp:
		rho := c.Rho
		if rho == 0 {
			rho = 0.9
		}
		return &rmsprop{sq: make([]float64, dim), rho: rho, eps: eps}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer kind %d", c.Kind)
	}
}

type sgd struct{}

func (sgd) Apply(params, grads []float64, lr float64) {
	floats.AddScaled(params, -lr, grads)
}

type adagrad struct {
	accum []float64
	eps   float64
}

func (o *adagrad) Apply(params, grads []float64, lr float64) {
	for i, g := range grads {
		o.accum[i] += g * g
		params[i] -= lr * g / (math.Sqrt(o.accum[i]) + o.eps)
	}
}

type adam struct {
	m, v         []float64
	beta1, beta2 float64
	eps          float64
	t            int
}

func (o *adam) Apply(params, grads []float64, lr float64) {
	o.t++
	correction1 := 1 - math.Pow(o.beta1, float64(o.t))
	correction2 := 1 - math.Pow(o.beta2, float64(o.t))
	for i, g := range grads {
		o.m[i] = o.beta1*o.m[i] + (1-o.beta1)*g
		o.v[i] = o.beta2*o.v[i] + (1-o.beta2)*g*g
		mHat := o.m[i] / correction1
		vHat := o.v[i] / correction2
		params[i] -= lr * mHat / (math.Sqrt(vHat) + o.eps)
	}
}

type rmsprop struct {
	sq  []float64
	rho float64
	eps float64
}

func (o *rmsprop) Apply(params, grads []float64, lr float64) {
	for i, g := range grads {
		o.sq[i] = o.rho*o.sq[i] + (1-o.rho)*g*g
		params[i] -= lr * g / (math.Sqrt(o.sq[i]) + o.eps)
	}
}
