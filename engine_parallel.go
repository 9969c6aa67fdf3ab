package sdl

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sdlhq/sdl/internal/lang"
	"github.com/sdlhq/sdl/internal/store"
)

// extractionTask is one file queued for the parallel extraction pipeline:
// prepared serially in Phase A, extracted concurrently in Phase B, then
// committed serially in Phase C.
type extractionTask struct {
	fileID       int64
	absPath      string
	relPath      string
	language     string
	oldSymbolIDs []string
}

// extractionResult is a completed Phase B extraction, ready to commit.
type extractionResult struct {
	task  extractionTask
	batch *store.BatchedStore
	err   error
}

// maxExtractionWorkers bounds Phase B concurrency so a large repo's
// extraction fan-out never exhausts file descriptors or tree-sitter
// parser instances.
func maxExtractionWorkers() int64 {
	n := int64(runtime.NumCPU())
	if n < 1 {
		n = 1
	}
	if n > 8 {
		n = 8
	}
	return n
}

// indexFilesParallel runs the three-phase pipeline: Phase A serially
// prepares each changed file (hash, diff, delete-old-data, insert file
// row); Phase B extracts concurrently into per-file BatchedStores; Phase
// C serially commits each batch and records the blast radius. Only one
// goroutine ever writes to SQLite, keeping the single-writer-per-repo
// rule intact.
func (e *Engine) indexFilesParallel(ctx context.Context, repoID, root string, paths []string, languages map[string]bool) (int, error) {
	tasks, prepErrs := e.prepareTasks(repoID, root, paths, languages)
	for _, ie := range prepErrs {
		e.logger.Warn("index: file failed during prepare, skipping", zap.Error(ie))
	}
	if len(tasks) == 0 {
		return 0, firstIndexError(prepErrs)
	}

	results := e.extractTasks(ctx, repoID, tasks)

	committed := 0
	var commitErrs []error
	for _, r := range results {
		if r.err != nil {
			commitErrs = append(commitErrs, &IndexError{Path: r.task.absPath, Err: r.err})
			e.logger.Warn("index: file failed during extraction, skipping", zap.String("path", r.task.absPath), zap.Error(r.err))
			continue
		}
		if err := e.store.CommitBatch(r.batch); err != nil {
			commitErrs = append(commitErrs, &IndexError{Path: r.task.absPath, Err: err})
			e.logger.Warn("index: file failed during commit, skipping", zap.String("path", r.task.absPath), zap.Error(err))
			continue
		}
		e.recordBlastRadius(r.task.fileID, r.task.oldSymbolIDs)
		committed++
	}

	allErrs := append(append([]error{}, prepErrs...), commitErrs...)
	if len(allErrs) > 0 {
		return committed, fmt.Errorf("indexing had %d error(s): %w", len(allErrs), allErrs[0])
	}
	return committed, nil
}

// prepareTasks is Phase A: serial, since it deletes and inserts File rows
// and must run before any worker touches that file's data.
func (e *Engine) prepareTasks(repoID, root string, paths []string, languages map[string]bool) ([]extractionTask, []error) {
	var tasks []extractionTask
	var errs []error

	for _, absPath := range paths {
		relPath := toRelSlash(root, absPath)
		language, ok := lang.LanguageForFile(absPath)
		if !ok {
			continue
		}
		if languages != nil && !languages[language] {
			continue
		}

		content, err := os.ReadFile(absPath)
		if err != nil {
			errs = append(errs, &IndexError{Path: absPath, Err: fmt.Errorf("read file: %w", err)})
			continue
		}
		hash := fmt.Sprintf("%x", sha256.Sum256(content))

		existing, err := e.store.FileByPath(repoID, relPath)
		if err != nil && err != store.ErrNotFound {
			errs = append(errs, &IndexError{Path: absPath, Err: fmt.Errorf("lookup file: %w", err)})
			continue
		}
		if existing != nil && existing.ContentHash == hash {
			continue
		}

		var oldSymbolIDs []string
		if existing != nil {
			oldSyms, err := e.store.SymbolsByFile(existing.ID)
			if err != nil {
				errs = append(errs, &IndexError{Path: absPath, Err: fmt.Errorf("capture old symbols: %w", err)})
				continue
			}
			for _, s := range oldSyms {
				oldSymbolIDs = append(oldSymbolIDs, s.SymbolID)
			}
			if err := e.store.DeleteFileData(existing.ID); err != nil {
				errs = append(errs, &IndexError{Path: absPath, Err: fmt.Errorf("delete old data: %w", err)})
				continue
			}
		}

		fileID, err := e.store.InsertFile(&store.File{
			RepoID:      repoID,
			RelPath:     relPath,
			Language:    language,
			ContentHash: hash,
			ByteSize:    int64(len(content)),
		})
		if err != nil {
			errs = append(errs, &IndexError{Path: absPath, Err: fmt.Errorf("insert file: %w", err)})
			continue
		}

		tasks = append(tasks, extractionTask{
			fileID:       fileID,
			absPath:      absPath,
			relPath:      relPath,
			language:     language,
			oldSymbolIDs: oldSymbolIDs,
		})
	}
	return tasks, errs
}

// extractTasks is Phase B: a bounded worker pool runs each file's
// extraction script against its own BatchedStore, in parallel, touching
// SQLite only for the read-through lookups BatchedStore proxies.
func (e *Engine) extractTasks(ctx context.Context, repoID string, tasks []extractionTask) []extractionResult {
	sem := semaphore.NewWeighted(maxExtractionWorkers())
	results := make([]extractionResult, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		i, task := i, task
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = extractionResult{task: task, err: err}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			batch := store.NewBatchedStore(e.store, repoID)
			rt := e.newRuntime(batch)
			extras := e.scriptExtras(repoID, task.absPath, task.relPath, task.fileID, task.language)
			scriptPath := lang.ExtractionScriptPath(task.language)
			if err := rt.RunScript(ctx, scriptPath, extras); err != nil {
				results[i] = extractionResult{task: task, err: fmt.Errorf("extraction script: %w", err)}
				return
			}
			// The script only knows the file_id via extras; stamp it onto
			// every buffered symbol here so CommitBatch's upsert has the
			// right file_id even if a script forgot to set it.
			for _, sym := range batch.Symbols {
				if sym.FileID == 0 {
					sym.FileID = task.fileID
				}
			}
			results[i] = extractionResult{task: task, batch: batch}
		}()
	}
	wg.Wait()
	return results
}

func firstIndexError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("indexing had %d error(s): %w", len(errs), errs[0])
}
