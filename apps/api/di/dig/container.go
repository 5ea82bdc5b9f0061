package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/doubtbuddy/apps/api/echo"
	"github.com/trezcool/doubtbuddy/core"
	"github.com/trezcool/doubtbuddy/core/doubt"
	"github.com/trezcool/doubtbuddy/core/user"
	emailsvc "github.com/trezcool/doubtbuddy/services/email"
	logsvc "github.com/trezcool/doubtbuddy/services/logger"
	"github.com/trezcool/doubtbuddy/services/markup"
	rediscache "github.com/trezcool/doubtbuddy/storage/cache"
	"github.com/trezcool/doubtbuddy/storage/database"
	inmemdb "github.com/trezcool/doubtbuddy/storage/database/inmem"
	sqlxrepos "github.com/trezcool/doubtbuddy/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Store holds the backends behind the repositories.
// SQL is nil when running in memory, Redis is nil when the question cache is disabled.
type Store struct {
	SQL   *sqlx.DB
	Mem   *inmemdb.DB
	Redis *redis.Client
}

func (s *Store) Close() error {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			return errors.Wrap(err, "closing redis client")
		}
	}
	if s.SQL != nil {
		return errors.Wrap(s.SQL.Close(), "closing database")
	}
	return nil
}

type repositories struct {
	dig.Out
	Users     user.Repository
	Questions doubt.Repository
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStore(conf *core.Config, loggerParam DBLoggerParam) *Store {
	logger := loggerParam.Logger
	store := new(Store)

	if conf.Database.InMemory {
		logger.Warn("running on the in-memory database, data will be lost on exit")
		store.Mem = inmemdb.Open()
	} else {
		setUp := func() (*sqlx.DB, error) {
			if err := database.CreateIfNotExist(conf); err != nil {
				return nil, err
			}

			db, err := database.Open(conf)
			if err != nil {
				return nil, err
			}

			if err = database.Migrate(db.DB); err != nil {
				return nil, err
			}
			return db, nil
		}

		db, err := setUp()
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		store.SQL = db
	}

	if conf.Redis.Address != "" {
		client, err := rediscache.NewClient(context.Background(), conf.Redis)
		if err != nil {
			// the cache is optional: serve straight from the database
			logger.Error(fmt.Sprintf("connecting to redis: %v", err), err)
		} else {
			store.Redis = client
		}
	}
	return store
}

func newRepositories(conf *core.Config, logger core.Logger, store *Store) repositories {
	var repos repositories
	if store.SQL != nil {
		repos.Users = sqlxrepos.NewUserRepository(store.SQL)
		repos.Questions = sqlxrepos.NewQuestionRepository(store.SQL)
	} else {
		repos.Users = inmemdb.NewUserRepository(store.Mem)
		repos.Questions = inmemdb.NewQuestionRepository(store.Mem)
	}
	if store.Redis != nil {
		repos.Questions = rediscache.NewQuestionRepository(repos.Questions, store.Redis, conf.Redis.TTL, logger)
	}
	return repos
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newQuestionService(
	conf *core.Config,
	repo doubt.Repository,
	usrSvc *user.Service,
	mailSvc core.EmailService,
	logger core.Logger,
	validate *validator.Validate,
) *doubt.Service {
	return doubt.NewService(conf, repo, usrSvc, mailSvc, logger, validate)
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStore))
	must(c.Provide(newRepositories))
	must(c.Provide(newEmailService))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(user.NewService))
	must(c.Provide(newQuestionService))
	must(c.Provide(markup.NewRenderer))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
