package logging

import (
	"fmt"

	pionlog "github.com/pion/logging"
)

// PionFactory 는 pion 라이브러리의 로그를 Logger 로 보내는 pionlog.LoggerFactory 구현입니다. (ko)
// PionFactory routes pion's internal logs into a structured Logger. (en)
//
// Trace 로그는 Debug 레벨로 합쳐지며, Trace 가 false 이면 버립니다.
type PionFactory struct {
	Logger Logger
	Trace  bool
}

var _ pionlog.LoggerFactory = PionFactory{}

// NewLogger 는 scope 필드를 가진 pionlog.LeveledLogger 를 반환합니다.
func (f PionFactory) NewLogger(scope string) pionlog.LeveledLogger {
	l := f.Logger
	if l == nil {
		l = Nop()
	}
	return &pionLogger{
		l:     l.With(Fields{"pion_scope": scope}),
		trace: f.Trace,
	}
}

type pionLogger struct {
	l     Logger
	trace bool
}

func (p *pionLogger) Trace(msg string) {
	if p.trace {
		p.l.Debug(msg, Fields{"trace": true})
	}
}

func (p *pionLogger) Tracef(format string, args ...any) {
	if p.trace {
		p.l.Debug(fmt.Sprintf(format, args...), Fields{"trace": true})
	}
}

func (p *pionLogger) Debug(msg string)                  { p.l.Debug(msg, nil) }
func (p *pionLogger) Debugf(format string, args ...any) { p.l.Debug(fmt.Sprintf(format, args...), nil) }
func (p *pionLogger) Info(msg string)                   { p.l.Info(msg, nil) }
func (p *pionLogger) Infof(format string, args ...any)  { p.l.Info(fmt.Sprintf(format, args...), nil) }
func (p *pionLogger) Warn(msg string)                   { p.l.Warn(msg, nil) }
func (p *pionLogger) Warnf(format string, args ...any)  { p.l.Warn(fmt.Sprintf(format, args...), nil) }
func (p *pionLogger) Error(msg string)                  { p.l.Error(msg, nil) }
func (p *pionLogger) Errorf(format string, args ...any) { p.l.Error(fmt.Sprintf(format, args...), nil) }
