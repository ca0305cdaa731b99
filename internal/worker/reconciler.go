package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"socialite/internal/model"
	"socialite/internal/queue"
	"socialite/internal/repository"
	"socialite/internal/service"
)

const (
	// DefaultBatchSize is the number of messages to read per batch
	DefaultBatchSize = 10

	// DefaultBlockTimeout is how long to block waiting for new messages
	DefaultBlockTimeout = 5 * time.Second
)

// Reconciler consumes graph events and repairs the invariants the request
// path cannot guarantee on its own: the bidirectional follower/following
// consistency (the two writes are not transactional) and remote images left
// without an owning record. Every repair it applies is idempotent, so
// re-delivery of an already-handled event is harmless.
type Reconciler struct {
	consumer  queue.Consumer
	repo      repository.UserRepository
	images    service.ImageHost
	logger    *logrus.Logger
	batchSize int64
	blockTime time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewReconciler(consumer queue.Consumer, repo repository.UserRepository, images service.ImageHost, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		consumer:  consumer,
		repo:      repo,
		images:    images,
		logger:    logger,
		batchSize: DefaultBatchSize,
		blockTime: DefaultBlockTimeout,
	}
}

// Start begins the reconciler loop. Call Stop to shut down.
func (r *Reconciler) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	if err := r.consumer.EnsureGroup(ctx, queue.StreamGraph, queue.ConsumerGroupGraph); err != nil {
		return err
	}

	r.wg.Add(1)
	go r.run(ctx)

	r.logger.WithFields(logrus.Fields{
		"stream": queue.StreamGraph,
		"group":  queue.ConsumerGroupGraph,
	}).Info("graph reconciler started")
	return nil
}

// Stop shuts the loop down and blocks until it has finished.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	consumerName := consumerName()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := r.consumer.Read(ctx, queue.StreamGraph, queue.ConsumerGroupGraph, consumerName, r.batchSize, r.blockTime)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.WithError(err).Error("reconciler read failed")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			if err := r.Handle(ctx, msg.Event); err != nil {
				// Leave the message pending; it will be redelivered.
				r.logger.WithFields(logrus.Fields{
					"msg_id": msg.ID,
					"type":   msg.Event.Type,
				}).WithError(err).Error("reconcile failed")
				continue
			}
			if err := r.consumer.Ack(ctx, queue.StreamGraph, queue.ConsumerGroupGraph, msg.ID); err != nil {
				r.logger.WithField("msg_id", msg.ID).WithError(err).Error("ack failed")
			}
		}
	}
}

// Handle applies the repair for a single event.
func (r *Reconciler) Handle(ctx context.Context, event queue.GraphEvent) error {
	switch event.Type {
	case queue.EventUserFollowed:
		return r.reconcileFollow(ctx, event.FollowerID, event.FolloweeID)
	case queue.EventUserUnfollowed:
		return r.reconcileUnfollow(ctx, event.FollowerID, event.FolloweeID)
	case queue.EventAvatarOrphaned:
		return r.deleteOrphan(ctx, event.AvatarKey)
	default:
		r.logger.WithField("type", event.Type).Warn("unknown graph event type")
		return nil
	}
}

// reconcileFollow re-applies both sides of a follow. The set semantics of
// the array mutations make the re-application a no-op when the request path
// already completed it. A side whose record has since been deleted is
// treated as settled.
func (r *Reconciler) reconcileFollow(ctx context.Context, followerID, followeeID int64) error {
	if _, err := r.repo.GetByID(ctx, followeeID); err != nil {
		if err == model.ErrUserNotFound {
			return nil
		}
		return fmt.Errorf("resolve followee %d: %w", followeeID, err)
	}

	if _, err := r.repo.AddToFollowing(ctx, followerID, followeeID); err != nil && err != model.ErrUserNotFound {
		return fmt.Errorf("repair following of %d: %w", followerID, err)
	}
	if _, err := r.repo.AddToFollowers(ctx, followeeID, followerID); err != nil && err != model.ErrUserNotFound {
		return fmt.Errorf("repair followers of %d: %w", followeeID, err)
	}
	return nil
}

// reconcileUnfollow re-applies both removals.
func (r *Reconciler) reconcileUnfollow(ctx context.Context, followerID, followeeID int64) error {
	if _, err := r.repo.RemoveFromFollowing(ctx, followerID, followeeID); err != nil && err != model.ErrUserNotFound {
		return fmt.Errorf("repair following of %d: %w", followerID, err)
	}
	if _, err := r.repo.RemoveFromFollowers(ctx, followeeID, followerID); err != nil && err != model.ErrUserNotFound {
		return fmt.Errorf("repair followers of %d: %w", followeeID, err)
	}
	return nil
}

// deleteOrphan removes an uploaded image that lost its owning record.
func (r *Reconciler) deleteOrphan(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := r.images.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete orphaned image %s: %w", key, err)
	}
	r.logger.WithField("key", key).Info("deleted orphaned image")
	return nil
}

func consumerName() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "reconciler"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}
