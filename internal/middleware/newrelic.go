package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/sirupsen/logrus"
)

// ErrorReporter logs errors attached to the gin context and notices them on
// the New Relic transaction started by nrgin, when there is one.
func ErrorReporter(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		txn := nrgin.Transaction(c)
		for _, err := range c.Errors {
			log.WithError(err.Err).WithFields(logrus.Fields{
				"method": c.Request.Method,
				"route":  c.FullPath(),
				"status": c.Writer.Status(),
			}).Error("request failed")
			if txn != nil {
				txn.NoticeError(err.Err)
			}
		}
	}
}
