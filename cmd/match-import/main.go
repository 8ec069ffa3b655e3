package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/summit-bot/internal/kafka"
)

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "match-results", "Kafka topic")
	input := flag.String("input", "-", "JSON lines file of match envelopes (- for stdin)")
	dryRun := flag.Bool("dry-run", false, "Validate the input without publishing")
	flag.Parse()

	var reader io.Reader = os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			log.Fatalf("Failed to open input: %v", err)
		}
		defer f.Close()
		reader = f
	}

	fmt.Println("Match import")
	fmt.Printf("  Brokers: %s\n", *brokers)
	fmt.Printf("  Topic:   %s\n", *topic)
	fmt.Printf("  Input:   %s\n", *input)
	fmt.Println()

	var producer sarama.AsyncProducer
	var successCount, errorCount int64
	var wg sync.WaitGroup

	if !*dryRun {
		// Configure Sarama producer
		config := sarama.NewConfig()
		config.Producer.RequiredAcks = sarama.WaitForAll
		config.Producer.Compression = sarama.CompressionSnappy
		config.Producer.Flush.Frequency = 100 * time.Millisecond
		config.Producer.Flush.Messages = 100
		config.Producer.Return.Successes = true
		config.Producer.Return.Errors = true

		var err error
		producer, err = sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
		if err != nil {
			log.Fatalf("Failed to create producer: %v", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for range producer.Successes() {
				atomic.AddInt64(&successCount, 1)
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			for err := range producer.Errors() {
				atomic.AddInt64(&errorCount, 1)
				log.Printf("Producer error: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines, invalid int
scan:
	for scanner.Scan() {
		select {
		case <-sigChan:
			fmt.Println("\nInterrupted, flushing...")
			break scan
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines++

		// Same decoding the consumer applies, so bad lines never reach the topic.
		result, err := kafka.DecodeResult([]byte(line))
		if err != nil {
			invalid++
			log.Printf("Line %d rejected: %v", lines, err)
			continue
		}

		if producer != nil {
			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(result.Reporter()),
				Value: sarama.ByteEncoder(line),
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("Read error: %v", err)
	}

	if producer != nil {
		producer.AsyncClose()
		wg.Wait()
	}

	fmt.Printf("Done. Lines: %d, Invalid: %d, Sent: %d, Errors: %d\n",
		lines, invalid, atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	if invalid > 0 || atomic.LoadInt64(&errorCount) > 0 {
		os.Exit(1)
	}
}
