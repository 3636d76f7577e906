package brokertest

import (
	"errors"
	"io"
	"net"
	"os"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/logger"
)

func send(conn net.Conn, data []byte, connID string) error {
	total := 0
	for total < len(data) {
		n, err := conn.Write(data[total:])
		if err != nil {
			logger.DebugF("[broker %s] Fail to send data, details: %v", connID, err)
			return err
		}
		total += n
	}
	return nil
}

func isNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

func handleReadError(connID string, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.DebugF("[broker %s] Client close connection", connID)
	case os.IsTimeout(err):
		logger.DebugF("[broker %s] Reading timeout", connID)
	case isNetClosedError(err):
		logger.DebugF("[broker %s] Connection dropped", connID)
	default:
		logger.WarnF("[broker %s] Error occured while reading packet, details: %v", connID, err)
	}
}
