package logging

// Per-category convenience wrappers, mirroring the pattern used throughout
// the rest of the codebase (Get(category).Info(...) is verbose at call sites).

func Parser(format string, args ...interface{})      { Get(CategoryParser).Info(format, args...) }
func ParserDebug(format string, args ...interface{})  { Get(CategoryParser).Debug(format, args...) }

func Cache(format string, args ...interface{})     { Get(CategoryCache).Info(format, args...) }
func CacheDebug(format string, args ...interface{}) { Get(CategoryCache).Debug(format, args...) }

func Incremental(format string, args ...interface{})     { Get(CategoryIncremental).Info(format, args...) }
func IncrementalDebug(format string, args ...interface{}) { Get(CategoryIncremental).Debug(format, args...) }

func Relate(format string, args ...interface{})     { Get(CategoryRelate).Info(format, args...) }
func RelateDebug(format string, args ...interface{}) { Get(CategoryRelate).Debug(format, args...) }

func EntityStore(format string, args ...interface{})     { Get(CategoryEntityStore).Info(format, args...) }
func EntityStoreDebug(format string, args ...interface{}) { Get(CategoryEntityStore).Debug(format, args...) }

func RelStore(format string, args ...interface{})     { Get(CategoryRelStore).Info(format, args...) }
func RelStoreDebug(format string, args ...interface{}) { Get(CategoryRelStore).Debug(format, args...) }

func VectorStore(format string, args ...interface{})     { Get(CategoryVectorStore).Info(format, args...) }
func VectorStoreDebug(format string, args ...interface{}) { Get(CategoryVectorStore).Debug(format, args...) }

func History(format string, args ...interface{})     { Get(CategoryHistory).Info(format, args...) }
func HistoryDebug(format string, args ...interface{}) { Get(CategoryHistory).Debug(format, args...) }

func Sync(format string, args ...interface{})     { Get(CategorySync).Info(format, args...) }
func SyncDebug(format string, args ...interface{}) { Get(CategorySync).Debug(format, args...) }
func SyncWarn(format string, args ...interface{})  { Get(CategorySync).Warn(format, args...) }
func SyncError(format string, args ...interface{}) { Get(CategorySync).Error(format, args...) }

func Bus(format string, args ...interface{})     { Get(CategoryBus).Info(format, args...) }
func BusDebug(format string, args ...interface{}) { Get(CategoryBus).Debug(format, args...) }

func Embedding(format string, args ...interface{})     { Get(CategoryEmbedding).Info(format, args...) }
func EmbeddingDebug(format string, args ...interface{}) { Get(CategoryEmbedding).Debug(format, args...) }

func Facade(format string, args ...interface{})     { Get(CategoryFacade).Info(format, args...) }
func FacadeDebug(format string, args ...interface{}) { Get(CategoryFacade).Debug(format, args...) }

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }
