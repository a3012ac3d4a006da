package chain

// ERC20 ABI variants: string and bytes32 fallbacks for name/symbol
const erc20ABIString = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"NAME","outputs":[{"name":"","type":"bytes32"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"SYMBOL","outputs":[{"name":"","type":"bytes32"}],"type":"function"}
]`

// Concentrated-liquidity pool view functions used by the handlers.
const poolABIString = `[
	{"inputs":[],"name":"liquidity","outputs":[{"internalType":"uint128","name":"","type":"uint128"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"fee","outputs":[{"internalType":"uint24","name":"","type":"uint24"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"feeGrowthGlobal0X128","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"feeGrowthGlobal1X128","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"int24","name":"","type":"int24"}],"name":"ticks","outputs":[
		{"internalType":"uint128","name":"liquidityGross","type":"uint128"},
		{"internalType":"int128","name":"liquidityNet","type":"int128"},
		{"internalType":"uint256","name":"feeGrowthOutside0X128","type":"uint256"},
		{"internalType":"uint256","name":"feeGrowthOutside1X128","type":"uint256"},
		{"internalType":"int56","name":"tickCumulativeOutside","type":"int56"},
		{"internalType":"uint160","name":"secondsPerLiquidityOutsideX128","type":"uint160"},
		{"internalType":"uint32","name":"secondsOutside","type":"uint32"},
		{"internalType":"bool","name":"initialized","type":"bool"}
	],"stateMutability":"view","type":"function"}
]`

// v2 pools expose both reserves through a single getter, plus the token pair.
const v2PoolABIString = `[
	{"inputs":[],"name":"getCurrentPool","outputs":[
		{"internalType":"uint256","name":"","type":"uint256"},
		{"internalType":"uint256","name":"","type":"uint256"}
	],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"tokenA","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"tokenB","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

// Factory enumeration functions, used once to seed pools that predate the
// indexer's start block.
const factoryABIString = `[
	{"inputs":[],"name":"getPoolCount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"idx","type":"uint256"}],"name":"getPoolAddress","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const v2FactoryABIString = `[
	{"inputs":[],"name":"getPoolCount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"idx","type":"uint256"}],"name":"pools","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`
