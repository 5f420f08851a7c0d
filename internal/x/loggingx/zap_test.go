package loggingx_test

import (
	. "github.com/dogmatiq/conductor/internal/x/loggingx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var _ = Describe("type Zap", func() {
	It("writes messages at the info level", func() {
		core, logs := observer.New(zapcore.InfoLevel)
		l := Zap{zap.New(core)}

		l.Log("<format %d>", 1)
		l.LogString("<message>")
		l.Debug("<debug %d>", 1)

		Expect(l.IsDebug()).To(BeFalse())
		Expect(logs.Len()).To(Equal(2))

		entries := logs.All()
		Expect(entries[0].Message).To(Equal("<format 1>"))
		Expect(entries[0].Level).To(Equal(zapcore.InfoLevel))
		Expect(entries[1].Message).To(Equal("<message>"))
	})

	It("writes debug messages at the debug level", func() {
		core, logs := observer.New(zapcore.DebugLevel)
		l := Zap{zap.New(core)}

		l.Debug("<debug %d>", 1)

		Expect(l.IsDebug()).To(BeTrue())
		Expect(logs.All()).To(HaveLen(1))
		Expect(logs.All()[0].Level).To(Equal(zapcore.DebugLevel))
		Expect(logs.All()[0].Message).To(Equal("<debug 1>"))
	})
})
