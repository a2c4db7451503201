// Package utils holds small filesystem and concurrency helpers shared by the pipeline.
package utils

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor is the default number of workers, at least one.
var ParallelFactor = max(runtime.GOMAXPROCS(0), 1)

type (
	// BeforeParallelGroupWorkFunc receives the number of groups before any of them starts.
	BeforeParallelGroupWorkFunc func(numGroups int)
	// MemberWorkFunc handles item workNum, the memberNum'th item of its group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs once a group has handled all its items.
	GroupWorkDoneFunc func()
	// GroupWorkFunc is called once per group with its item range [from, to).
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// span is the contiguous item range handled by one group.
type span struct{ from, to int }

// splitWork cuts total items into at most workers contiguous spans. The last span takes the
// remainder.
func splitWork(workers, total int) []span {
	groups := min(max(workers, 1), total)
	if groups == 0 {
		return nil
	}
	size := total / groups
	spans := make([]span, groups)
	for i := range spans {
		spans[i] = span{from: i * size, to: (i + 1) * size}
	}
	spans[groups-1].to = total
	return spans
}

// GroupWorkParallelN runs totalSize items over at most workers goroutines and blocks until all
// are done. Panics inside a group are recovered and returned as errors. Once ctx is done no new
// item is started and ctx.Err() is returned.
func GroupWorkParallelN(
	ctx context.Context,
	workers, totalSize int,
	before BeforeParallelGroupWorkFunc,
	groupWork GroupWorkFunc,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	spans := splitWork(workers, totalSize)
	if len(spans) == 0 {
		return nil
	}
	if before != nil {
		before(len(spans))
	}

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		err   error
	)
	wg.Add(len(spans))
	for groupNum, s := range spans {
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errMu.Lock()
					err = multierr.Append(err, fmt.Errorf("panic in work group %d: %v", groupNum, r))
					errMu.Unlock()
				}
			}()
			runGroup(ctx, groupNum, s, groupWork)
		})
	}
	wg.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return multierr.Append(err, ctxErr)
	}
	return err
}

func runGroup(ctx context.Context, groupNum int, s span, groupWork GroupWorkFunc) {
	member, done := groupWork(groupNum, s.to-s.from, s.from, s.to)
	if member != nil {
		for workNum := s.from; workNum < s.to && ctx.Err() == nil; workNum++ {
			member(workNum-s.from, workNum)
		}
	}
	if done != nil {
		done()
	}
}
