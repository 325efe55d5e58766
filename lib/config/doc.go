/*
Package config reads the settings of a depstore process from the
environment.

Every key maps to a DEPSTORE_ variable with dashes replaced by underscores:

	DEPSTORE_DATA_DIR                    directory of the bolt file (.depstore)
	DEPSTORE_BACKEND                     bolt or memory (bolt)
	DEPSTORE_LOG_LEVEL                   debug, info, warn or error (info)
	DEPSTORE_BOLT_OPEN_TIMEOUT           wait for the file lock (5s)
	DEPSTORE_CACHE_BASELINE              cache entries for the first unit of memory
	DEPSTORE_CACHE_INCREMENT             entries added per further unit
	DEPSTORE_CACHE_UNIT_MB               size of a memory unit in MB
	DEPSTORE_CACHE_MAX_MULTIPLIER        cap as a multiple of the baseline
	DEPSTORE_LIBRARY_CACHE               library graphs held strongly
	DEPSTORE_EXECUTOR                    goroutine or pool
	DEPSTORE_POOL_SIZE                   pool size, 0 means GOMAXPROCS
	DEPSTORE_COMPACTION_HEALTHY          fill rate above which no compaction runs
	DEPSTORE_COMPACTION_MODERATE         fill rate above which the moderate budget applies
	DEPSTORE_COMPACTION_MODERATE_BUDGET  compaction budget of a moderately fragmented store
	DEPSTORE_COMPACTION_FULL_BUDGET      compaction budget otherwise

Variables may also come from .env and .env.local in the working directory.
*/
package config
