package store

import (
	"context"
	"errors"

	"max.com/margin/pkg/monitor"
	"max.com/margin/pkg/pool"
	"max.com/margin/pkg/risk"
)

var _ monitor.ReportStore = Fanout(nil)

// Fanout 依次写入多个 ReportStore，某一个失败不影响其它
type Fanout []monitor.ReportStore

func (f Fanout) SavePoolReport(ctx context.Context, m pool.Metrics) error {
	var errList []error
	for _, s := range f {
		errList = append(errList, s.SavePoolReport(ctx, m))
	}
	return errors.Join(errList...)
}

func (f Fanout) SaveRiskResult(ctx context.Context, r risk.Result) error {
	var errList []error
	for _, s := range f {
		errList = append(errList, s.SaveRiskResult(ctx, r))
	}
	return errors.Join(errList...)
}

func (f Fanout) SaveAlert(ctx context.Context, a monitor.Alert) error {
	var errList []error
	for _, s := range f {
		errList = append(errList, s.SaveAlert(ctx, a))
	}
	return errors.Join(errList...)
}
