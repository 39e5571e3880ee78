package txn

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/langchou/truckpark/internal/metrics"
)

const (
	contextKey      = "truckpark.txn"
	requestIDHeader = "X-Request-ID"

	defaultFinishTimeout = 5 * time.Second
)

// Decorator 在响应发出前基于当前事务补充响应头
type Decorator func(c *gin.Context, tx pgx.Tx)

// Options 事务中间件配置
type Options struct {
	TxOptions     pgx.TxOptions
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Decorators    []Decorator
	FinishTimeout time.Duration // 提交和回滚的超时，不受请求取消影响
}

// requestState 请求级别的事务状态
type requestState struct {
	machine     *Machine
	afterCommit []func()
}

// From 返回当前请求的事务，必须在 Middleware 之后调用
func From(c *gin.Context) pgx.Tx {
	return c.MustGet(contextKey).(*requestState).machine.Tx()
}

// AfterCommit 注册提交成功后执行的回调
func AfterCommit(c *gin.Context, fn func()) {
	st := c.MustGet(contextKey).(*requestState)
	st.afterCommit = append(st.afterCommit, fn)
}

// Middleware 每个请求一个事务：2xx 且无错误时提交，否则回滚。
// 响应先缓存，事务结束后才发给客户端，提交失败时改为 500。
func Middleware(db Beginner, opts Options) gin.HandlerFunc {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FinishTimeout <= 0 {
		opts.FinishTimeout = defaultFinishTimeout
	}

	return func(c *gin.Context) {
		requestID := xid.New().String()
		c.Header(requestIDHeader, requestID)
		logger := opts.Logger.With(
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)

		machine := NewMachine(func(from, to string) {
			logger.Debug("Transaction state changed", zap.String("from", from), zap.String("to", to))
		})
		if err := machine.Begin(c.Request.Context(), db, opts.TxOptions); err != nil {
			logger.Error("Failed to begin transaction", zap.Error(err))
			opts.Metrics.ObserveTransaction("begin_failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, internalError())
			return
		}

		st := &requestState{machine: machine}
		c.Set(contextKey, st)

		original := c.Writer
		buf := newBufferedWriter(original)
		c.Writer = buf

		finished := false
		defer func() {
			if finished {
				return
			}
			r := recover()
			ctx, cancel := finishContext(c, opts.FinishTimeout)
			defer cancel()
			if err := machine.Rollback(ctx); err != nil {
				logger.Error("Failed to roll back transaction after panic", zap.Error(err))
			}
			opts.Metrics.ObserveTransaction("rolled_back")
			c.Writer = original
			if r != nil {
				panic(r)
			}
		}()

		c.Next()

		finish(c, st, buf, db, opts, logger)
		finished = true

		c.Writer = original
		if err := buf.flush(); err != nil {
			logger.Warn("Failed to write response", zap.Error(err))
		}
	}
}

// finish 根据响应状态提交或回滚事务
func finish(c *gin.Context, st *requestState, buf *bufferedWriter, db Beginner, opts Options, logger *zap.Logger) {
	ctx, cancel := finishContext(c, opts.FinishTimeout)
	defer cancel()

	machine := st.machine
	success := isSuccess(buf.Status()) && len(c.Errors) == 0
	// 装饰器和提交后的回调同样不随客户端断开而取消
	req := c.Request
	c.Request = req.WithContext(ctx)
	defer func() { c.Request = req }()

	if success {
		saved := c.Writer.Header().Clone()
		for _, decorate := range opts.Decorators {
			decorate(c, machine.Tx())
		}

		if err := machine.Commit(ctx); err != nil {
			logger.Error("Failed to commit transaction", zap.Error(err))
			opts.Metrics.ObserveTransaction("commit_failed")
			buf.reset()
			// 装饰器写入的头部基于已回滚的数据
			restoreHeader(c.Writer.Header(), saved)
			c.JSON(http.StatusInternalServerError, internalError())
			return
		}
		opts.Metrics.ObserveTransaction("committed")
		for _, fn := range st.afterCommit {
			fn()
		}
		return
	}

	if err := machine.Rollback(ctx); err != nil {
		logger.Error("Failed to roll back transaction", zap.Error(err))
		opts.Metrics.ObserveTransaction("rollback_failed")
		buf.reset()
		c.JSON(http.StatusInternalServerError, internalError())
		return
	}
	opts.Metrics.ObserveTransaction("rolled_back")
	decorateReadOnly(ctx, c, db, opts, logger)

	// 回滚后仍是 2xx 说明处理器通过 c.Error 报告了错误
	if isSuccess(buf.Status()) {
		logger.Error("Transaction was not committed but a request with status 2xx was sent",
			zap.Int("status", buf.Status()),
			zap.String("errors", c.Errors.String()),
		)
		opts.Metrics.ObserveTransaction("anomaly")
	}
}

// decorateReadOnly 事务已回滚时，在只读事务中补充响应头
func decorateReadOnly(ctx context.Context, c *gin.Context, db Beginner, opts Options, logger *zap.Logger) {
	if len(opts.Decorators) == 0 {
		return
	}

	txOpts := opts.TxOptions
	txOpts.AccessMode = pgx.ReadOnly
	tx, err := db.BeginTx(ctx, txOpts)
	if err != nil {
		logger.Warn("Failed to begin read-only transaction for response headers", zap.Error(err))
		return
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			logger.Warn("Failed to close read-only transaction", zap.Error(err))
		}
	}()

	for _, decorate := range opts.Decorators {
		decorate(c, tx)
	}
}

// finishContext 脱离请求取消的上下文，客户端断开后事务仍能结束
func finishContext(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request.Context()), timeout)
}

// restoreHeader 把响应头恢复为 saved
func restoreHeader(h, saved http.Header) {
	for key := range h {
		if _, ok := saved[key]; !ok {
			h.Del(key)
		}
	}
	for key, values := range saved {
		h[key] = values
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func internalError() gin.H {
	return gin.H{
		"statusCode": http.StatusInternalServerError,
		"error":      "Internal Server Error",
		"message":    "An internal server error occurred",
	}
}
