// Package kafka 將已提交的交易以事件發佈到 Kafka
package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
)

// DefaultTopic 預設主題
const DefaultTopic = "ledger.transaction_applied"

// Config Kafka 發佈設定，Brokers 為空表示不發佈
type Config struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// messageWriter 抽出 kafka.Writer 會用到的方法
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer  messageWriter
	timeout time.Duration
}

// NewPublisher 建立發佈者
//
// 以客戶 ID 作為 key，同一客戶的事件進同一個 partition，保持提交順序
func NewPublisher(cfg Config) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = time.Second
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: cfg.WriteTimeout,
		},
		timeout: cfg.WriteTimeout,
	}
}

func (p *Publisher) Publish(ctx context.Context, evt *domain.TransactionApplied) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	// 事件在交易提交後才發佈，不隨請求取消
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.ClientID, 10)),
		Value: data,
		Time:  evt.OccurredAt,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ usecase.EventPublisher = (*Publisher)(nil)
