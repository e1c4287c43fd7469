// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package datasetwriter

import (
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// forEachConcurrently runs fn over every item with bounded parallelism and
// aggregates every failure. Items that succeed are not rolled back when a
// sibling fails.
func forEachConcurrently[T any](items []T, fn func(T) error) error {
	var (
		mu   sync.Mutex
		merr *multierror.Error
	)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, item := range items {
		g.Go(func() error {
			if err := fn(item); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return merr.ErrorOrNil()
}

// collectConcurrently runs fn over every item with bounded parallelism,
// gathering the results of all successful calls and aggregating every
// failure. Result order is unspecified, but every item is accounted for
// exactly once: either its result is returned or its error is part of the
// aggregate.
func collectConcurrently[T, R any](items []T, fn func(T) (R, error)) ([]R, error) {
	var (
		mu      sync.Mutex
		merr    *multierror.Error
		results = make([]R, 0, len(items))
	)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, item := range items {
		g.Go(func() error {
			r, err := fn(item)
			mu.Lock()
			if err != nil {
				merr = multierror.Append(merr, err)
			} else {
				results = append(results, r)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, merr.ErrorOrNil()
}
