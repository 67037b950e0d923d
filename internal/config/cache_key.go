package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SnapshotSlotKey returns the key of the single active-exam snapshot slot.
func (r *CacheKeyStruct) SnapshotSlotKey(slot string) string {
	return fmt.Sprintf("engine:snapshot:%s", slot)
}

// ExamPayloadKey returns the cache key for an exam's owner and question bank rows
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

func (r *CacheKeyStruct) ExamAnswersKey(examID string) string {
	return fmt.Sprintf("exam:%s:answers", examID)
}

// ExamFinishedKey marks an exam as closed to answers. Finish sets it before grading
func (r *CacheKeyStruct) ExamFinishedKey(examID string) string {
	return fmt.Sprintf("exam:%s:finished", examID)
}

var CacheKey = NewCacheKeyStruct()
