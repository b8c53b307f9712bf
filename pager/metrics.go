package pager

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	pagesCreated      metric.Int64Counter
	pagesReused       metric.Int64Counter
	pagesRetired      metric.Int64Counter
	temporaryReleased metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/vkngwrapper/kiln/pager")

	var err error

	pagesCreated, err = meter.Int64Counter(
		"kiln.pager.pages_created",
		metric.WithDescription("Number of pages created on the device"),
	)
	if err != nil {
		log.Fatalf("failed to create pages_created counter: %v", err)
	}

	pagesReused, err = meter.Int64Counter(
		"kiln.pager.pages_reused",
		metric.WithDescription("Number of retired pages made current again after their fence completed"),
	)
	if err != nil {
		log.Fatalf("failed to create pages_reused counter: %v", err)
	}

	pagesRetired, err = meter.Int64Counter(
		"kiln.pager.pages_retired",
		metric.WithDescription("Number of pages retired by Recycle"),
	)
	if err != nil {
		log.Fatalf("failed to create pages_retired counter: %v", err)
	}

	temporaryReleased, err = meter.Int64Counter(
		"kiln.pager.temporary_pages_released",
		metric.WithDescription("Number of temporary upload pages released"),
	)
	if err != nil {
		log.Fatalf("failed to create temporary_pages_released counter: %v", err)
	}
}

func recordPageCreated(kind string, category string) {
	pagesCreated.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("allocator", kind),
		attribute.String("category", category),
	))
}

func recordPageReused(kind string, category string) {
	pagesReused.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("allocator", kind),
		attribute.String("category", category),
	))
}

func recordPagesRetired(kind string, category string, count int) {
	pagesRetired.Add(context.Background(), int64(count), metric.WithAttributes(
		attribute.String("allocator", kind),
		attribute.String("category", category),
	))
}

func recordTemporaryReleased(kind string, count int) {
	temporaryReleased.Add(context.Background(), int64(count), metric.WithAttributes(
		attribute.String("allocator", kind),
	))
}
