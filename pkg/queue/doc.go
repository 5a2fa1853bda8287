// Package queue carries search indexing messages between producers and
// processors.
//
// A Transport stores messages; RedisTransport is the production backend and
// MemoryTransport serves tests and single-process runs. A Consumer pulls one
// message at a time, dispatches it by topic to a bound Processor and applies
// the returned Verdict:
//
//	ACK      message removed
//	REJECT   message moved to the dead-letter list
//	REQUEUE  message pushed back with one more attempt
//
// Usage:
//
//	transport := queue.NewRedisTransport(client, "reindexer")
//	consumer := queue.NewConsumer(transport, queue.ConsumerConfig{}, logger, metrics)
//	if err := consumer.Bind(rangeProcessor); err != nil {
//		return err
//	}
//	return consumer.RunConsumers(ctx, 4)
package queue
