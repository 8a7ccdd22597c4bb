package worldsync

import "errors"

var (
	ErrCollectionAlreadyRented = errors.New("collection already rented")
	ErrCollectionNotRented     = errors.New("collection not rented from this pool")

	ErrSyncBufferRented   = errors.New("sync command buffer already rented")
	ErrBufferFinalized    = errors.New("sync command buffer already finalized")
	ErrBufferReleased     = errors.New("sync command buffer already released")
	ErrBufferNotFinalized = errors.New("sync command buffer is not finalized")
	ErrForeignBuffer      = errors.New("sync command buffer belongs to another synchronizer")
)
