package txn

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
)

// bufferedWriter 缓存响应，事务结束后再写给客户端
type bufferedWriter struct {
	gin.ResponseWriter
	status  int
	written bool
	body    bytes.Buffer
}

func newBufferedWriter(w gin.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *bufferedWriter) WriteHeader(code int) {
	if code > 0 && !w.written {
		w.status = code
	}
}

func (w *bufferedWriter) WriteHeaderNow() {
	w.written = true
}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	w.written = true
	return w.body.Write(data)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	w.written = true
	return w.body.WriteString(s)
}

func (w *bufferedWriter) Status() int {
	return w.status
}

func (w *bufferedWriter) Size() int {
	if !w.written {
		return -1
	}
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool {
	return w.written
}

// Flush 缓存期间不向客户端刷新
func (w *bufferedWriter) Flush() {}

// reset 丢弃已缓存的响应
func (w *bufferedWriter) reset() {
	w.body.Reset()
	w.status = http.StatusOK
	w.written = false
}

// flush 把缓存的响应写给底层 writer
func (w *bufferedWriter) flush() error {
	w.ResponseWriter.WriteHeader(w.status)
	if !w.written {
		return nil
	}
	w.ResponseWriter.WriteHeaderNow()
	if w.body.Len() == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.body.Bytes())
	return err
}
