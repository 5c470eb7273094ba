// Package redis wraps the go-redis client with the storage and ingest
// surfaces the dashboard needs: the latest-quote store and the producer
// Pub/Sub bridge that feeds upstream events into the broadcast layer.
package redis
