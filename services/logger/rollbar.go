package logsvc

import (
	"context"
	"log"
	"os"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/doubtbuddy/core"
	"github.com/trezcool/doubtbuddy/core/user"
)

type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	host, _ := os.Hostname()
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// personOf splits the first user.User or authenticated user.Session out of args.
func personOf(args []interface{}) (*rollbar.Person, []interface{}) {
	var person *rollbar.Person
	rest := make([]interface{}, 0, len(args))
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			if person == nil {
				person = &rollbar.Person{Id: a.ID, Username: a.Name, Email: a.Email}
			}
		case user.Session:
			if person == nil && a.Authenticated() {
				person = &rollbar.Person{Id: a.UserID, Username: a.Name}
			}
		default:
			rest = append(rest, arg)
		}
	}
	return person, rest
}

// expected fmt: msg | error, map[string]interface{}, user.User | user.Session
// The person travels in the item's context, so concurrent requests never share it.
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	person, rest := personOf(args)
	newArgs := make([]interface{}, 0, len(rest)+2)
	newArgs = append(newArgs, msg)
	newArgs = append(newArgs, rest...)
	if person != nil {
		newArgs = append(newArgs, rollbar.NewPersonContext(context.Background(), person))
	}
	return newArgs
}

func (l RollbarLogger) print(msg string, args []interface{}) {
	l.std.Println(msg)
	for _, arg := range args {
		l.std.Printf("%+v\n", arg)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	l.print(msg, args)
	l.std.Fatal(msg)
}
