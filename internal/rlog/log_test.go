package rlog_test

import (
	"errors"
	"time"

	"github.com/dogmatiq/conductor/internal/rlog"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/dodeca/logging"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func LogRetry()", func() {
	It("logs the record and the cause of the failure", func() {
		logger := &logging.BufferedLogger{}

		rlog.LogRetry(
			logger,
			&protocol.Record{
				Position:             5,
				SourceRecordPosition: -1,
				Key:                  0x10,
				RecordType:           protocol.Command,
				ValueType:            protocol.JobValue,
				Intent:               protocol.JobComplete,
			},
			errors.New("<error>"),
			time.Second,
		)

		Expect(logger.Messages()).To(ConsistOf(
			logging.BufferedLogMessage{
				Message: "= 5  ∵ -  ↻ ✖  COMMAND JOB.COMPLETE ● key 0x10 ● <error> ● next retry in 1s",
			},
		))
	})
})

var _ = Describe("func FormatKey()", func() {
	It("omits negative keys", func() {
		Expect(rlog.FormatKey(-1)).To(Equal(""))
	})
})
