package aave

// Trimmed Aave V2 ABIs: only the view functions the reader calls.

const lendingPoolABI = `[
	{
		"inputs": [{"internalType": "address", "name": "user", "type": "address"}],
		"name": "getUserAccountData",
		"outputs": [
			{"internalType": "uint256", "name": "totalCollateralETH", "type": "uint256"},
			{"internalType": "uint256", "name": "totalDebtETH", "type": "uint256"},
			{"internalType": "uint256", "name": "availableBorrowsETH", "type": "uint256"},
			{"internalType": "uint256", "name": "currentLiquidationThreshold", "type": "uint256"},
			{"internalType": "uint256", "name": "ltv", "type": "uint256"},
			{"internalType": "uint256", "name": "healthFactor", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

const dataProviderABI = `[
	{
		"inputs": [],
		"name": "getAllReservesTokens",
		"outputs": [
			{
				"components": [
					{"internalType": "string", "name": "symbol", "type": "string"},
					{"internalType": "address", "name": "tokenAddress", "type": "address"}
				],
				"internalType": "struct AaveProtocolDataProvider.TokenData[]",
				"name": "",
				"type": "tuple[]"
			}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "asset", "type": "address"}],
		"name": "getReserveTokensAddresses",
		"outputs": [
			{"internalType": "address", "name": "aTokenAddress", "type": "address"},
			{"internalType": "address", "name": "stableDebtTokenAddress", "type": "address"},
			{"internalType": "address", "name": "variableDebtTokenAddress", "type": "address"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "asset", "type": "address"}],
		"name": "getReserveConfigurationData",
		"outputs": [
			{"internalType": "uint256", "name": "decimals", "type": "uint256"},
			{"internalType": "uint256", "name": "ltv", "type": "uint256"},
			{"internalType": "uint256", "name": "liquidationThreshold", "type": "uint256"},
			{"internalType": "uint256", "name": "liquidationBonus", "type": "uint256"},
			{"internalType": "uint256", "name": "reserveFactor", "type": "uint256"},
			{"internalType": "bool", "name": "usageAsCollateralEnabled", "type": "bool"},
			{"internalType": "bool", "name": "borrowingEnabled", "type": "bool"},
			{"internalType": "bool", "name": "stableBorrowRateEnabled", "type": "bool"},
			{"internalType": "bool", "name": "isActive", "type": "bool"},
			{"internalType": "bool", "name": "isFrozen", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "asset", "type": "address"},
			{"internalType": "address", "name": "user", "type": "address"}
		],
		"name": "getUserReserveData",
		"outputs": [
			{"internalType": "uint256", "name": "currentATokenBalance", "type": "uint256"},
			{"internalType": "uint256", "name": "currentStableDebt", "type": "uint256"},
			{"internalType": "uint256", "name": "currentVariableDebt", "type": "uint256"},
			{"internalType": "uint256", "name": "principalStableDebt", "type": "uint256"},
			{"internalType": "uint256", "name": "scaledVariableDebt", "type": "uint256"},
			{"internalType": "uint256", "name": "stableBorrowRate", "type": "uint256"},
			{"internalType": "uint256", "name": "liquidityRate", "type": "uint256"},
			{"internalType": "uint40", "name": "stableRateLastUpdated", "type": "uint40"},
			{"internalType": "bool", "name": "usageAsCollateralEnabled", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

const addressesProviderABI = `[
	{
		"inputs": [],
		"name": "getLendingPool",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getPriceOracle",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const priceOracleABI = `[
	{
		"inputs": [{"internalType": "address", "name": "asset", "type": "address"}],
		"name": "getAssetPrice",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`
