package dexv3

// Factory contract events
const factoryABIJSON = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "token0", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "token1", "type": "address"},
			{"indexed": true, "internalType": "uint24", "name": "fee", "type": "uint24"},
			{"indexed": false, "internalType": "int24", "name": "tickSpacing", "type": "int24"},
			{"indexed": false, "internalType": "address", "name": "pool", "type": "address"}
		],
		"name": "PoolCreated",
		"type": "event"
	}
]`

// Pool contract events
const poolABIJSON = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
			{"indexed": false, "internalType": "int24", "name": "tick", "type": "int24"}
		],
		"name": "Initialize",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "address", "name": "sender", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
			{"indexed": true, "internalType": "int24", "name": "tickLower", "type": "int24"},
			{"indexed": true, "internalType": "int24", "name": "tickUpper", "type": "int24"},
			{"indexed": false, "internalType": "uint128", "name": "amount", "type": "uint128"},
			{"indexed": false, "internalType": "uint256", "name": "amount0", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "amount1", "type": "uint256"}
		],
		"name": "Mint",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
			{"indexed": true, "internalType": "int24", "name": "tickLower", "type": "int24"},
			{"indexed": true, "internalType": "int24", "name": "tickUpper", "type": "int24"},
			{"indexed": false, "internalType": "uint128", "name": "amount", "type": "uint128"},
			{"indexed": false, "internalType": "uint256", "name": "amount0", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "amount1", "type": "uint256"}
		],
		"name": "Burn",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "recipient", "type": "address"},
			{"indexed": false, "internalType": "int256", "name": "amount0", "type": "int256"},
			{"indexed": false, "internalType": "int256", "name": "amount1", "type": "int256"},
			{"indexed": false, "internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
			{"indexed": false, "internalType": "uint128", "name": "liquidity", "type": "uint128"},
			{"indexed": false, "internalType": "int24", "name": "tick", "type": "int24"}
		],
		"name": "Swap",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "recipient", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount0", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "amount1", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "paid0", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "paid1", "type": "uint256"}
		],
		"name": "Flash",
		"type": "event"
	}
]`
